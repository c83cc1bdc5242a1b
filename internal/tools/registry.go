// Package tools implements the Tool Bus: the closed enumerated tool set
// (read_file, write_file, edit_file, bash, desktop), its policy gate
// pipeline, confirm-token registry, and executor dispatch, per spec §4.9.
// Grounded on the teacher's internal/tools package (policy.go's layered
// allow/deny evaluation, filesystem.go's path-security hardening,
// shell.go's deny-pattern defense-in-depth), narrowed to the closed set.
package tools

import "context"

// Tool is one canonical tool implementation.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args map[string]any) *Result
}

// Destructive marks tools that require a confirm token under the bus's
// policy gate (spec §4.9: "for destructive/UI tools — a valid confirm
// token").
type Destructive interface {
	RequiresConfirm(args map[string]any) bool
}

// Registry holds the closed set of registered tools by canonical name.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}
