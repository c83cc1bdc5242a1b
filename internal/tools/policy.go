package tools

import (
	"github.com/42atom/msgcode/internal/config"
)

// egressClass tags which tools perform network egress, evaluated against
// policy.mode per spec §4.9 ("egress class vs. policy.mode").
var egressClass = map[string]bool{
	"desktop": false,
	"bash":    true, // a shell command may reach the network; gated under egress-allowed only
	"read_file":  false,
	"write_file": false,
	"edit_file":  false,
}

// uiTools require a confirm token unconditionally — they act on the
// desktop automation host (spec §4.9: "for destructive/UI tools").
var uiTools = map[string]bool{
	"desktop": true,
}

// PolicyGate evaluates the layered allow/deny pipeline described in spec
// §4.9 and §3's `tooling.*`/`policy.*` workspace config keys. Grounded on
// the teacher's PolicyEngine (internal/tools/policy.go), narrowed from
// group/profile/alias expansion (irrelevant to a five-tool closed set) to
// the allow-list + egress-class + confirm-token checks this spec names.
type PolicyGate struct{}

func NewPolicyGate() *PolicyGate {
	return &PolicyGate{}
}

// Check runs the gate for one call. confirmed reports whether the request
// carried a confirm token the Bus has already validated; a tool's
// Destructive.RequiresConfirm is consulted with nil args.
func (g *PolicyGate) Check(cfg config.ToolingConfig, policy config.PolicyConfig, tool Tool, confirmed bool) (allowed bool, code string) {
	name := tool.Name()

	if cfg.Mode == config.ToolingExplicit && len(cfg.Allow) == 0 {
		return false, "TOOL_NOT_ALLOWED"
	}
	if len(cfg.Allow) > 0 && !contains(cfg.Allow, name) {
		return false, "TOOL_NOT_ALLOWED"
	}
	if egressClass[name] && policy.Mode == config.PolicyLocalOnly {
		return false, "TOOL_NOT_ALLOWED"
	}
	if requiresConfirm(tool) && !confirmed {
		return false, "DESKTOP_CONFIRM_REQUIRED"
	}
	return true, ""
}

func requiresConfirm(tool Tool) bool {
	if uiTools[tool.Name()] {
		return true
	}
	if d, ok := tool.(Destructive); ok {
		return d.RequiresConfirm(nil)
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
