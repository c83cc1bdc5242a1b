package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/pkg/protocol"
)

// GateConfig bundles the two workspace-config groups the policy gate
// consults (spec §4.9: "workspace tooling.mode ... egress class vs.
// policy.mode").
type GateConfig struct {
	Tooling config.ToolingConfig
	Policy  config.PolicyConfig
}

// Bus dispatches ToolCallRequests through the policy gate, confirm-token
// validation, and the executing Tool, emitting start/end telemetry per
// spec §4.9. One Bus exists per session (its ConfirmRegistry is bound to
// the session's lifetime, per §4.12).
type Bus struct {
	registry *Registry
	gate     *PolicyGate
	confirm  *ConfirmRegistry

	statsMu sync.Mutex
	stats   map[string]int
}

func NewBus(registry *Registry, confirm *ConfirmRegistry) *Bus {
	return &Bus{registry: registry, gate: NewPolicyGate(), confirm: confirm, stats: make(map[string]int)}
}

// Stats reports per-tool call counts since process start, backing the
// `/toolstats` command.
func (b *Bus) Stats() map[string]int {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	out := make(map[string]int, len(b.stats))
	for k, v := range b.stats {
		out[k] = v
	}
	return out
}

// Dispatch runs one tool call end to end, never promoting a failure into a
// synthetic success (spec §4.9: "It never silently promotes a failed tool
// call into a 'successful' natural-language summary").
func (b *Bus) Dispatch(ctx context.Context, req protocol.ToolCallRequest, gate GateConfig, source string) protocol.ToolCallResponse {
	start := time.Now()
	resp, code := b.dispatch(ctx, req, gate.Tooling, gate.Policy)

	b.statsMu.Lock()
	b.stats[req.Tool]++
	b.statsMu.Unlock()

	slog.Info("tool_call",
		"toolName", req.Tool,
		"durationMs", time.Since(start).Milliseconds(),
		"errorCode", code,
		"source", source,
	)
	return resp
}

func (b *Bus) dispatch(ctx context.Context, req protocol.ToolCallRequest, cfg config.ToolingConfig, policy config.PolicyConfig) (protocol.ToolCallResponse, string) {
	tool, ok := b.registry.Get(req.Tool)
	if !ok {
		return errResponse(protocol.ErrToolNotAllowed, "unknown tool "+req.Tool), protocol.ErrToolNotAllowed
	}

	confirmed := false
	if req.Confirm != nil {
		ok, reason := b.confirm.Validate(req.Confirm.Token, Intent{Method: req.Method, Params: req.Params})
		if !ok {
			return errResponseWithDetails(protocol.ErrDesktopConfirmRequired, "confirm token rejected: "+reason, map[string]any{"reason": reason}), protocol.ErrDesktopConfirmRequired
		}
		confirmed = true
	}

	if allowed, code := b.gate.Check(cfg, policy, tool, confirmed); !allowed {
		return errResponse(code, "tool "+req.Tool+" denied by policy"), code
	}

	timeout := time.Duration(req.Meta.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := tool.Execute(callCtx, req.Params)
	if callCtx.Err() != nil {
		return errResponse(protocol.ErrToolTimeout, "tool "+req.Tool+" timed out"), protocol.ErrToolTimeout
	}
	if result.IsError() {
		return errResponse(result.ErrorCode, result.ErrorMsg), result.ErrorCode
	}

	artifacts := make([]protocol.Artifact, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		artifacts = append(artifacts, protocol.Artifact{Path: a.Path, Kind: a.Kind})
	}
	return protocol.ToolCallResponse{
		OK: true,
		Data: &protocol.ToolCallData{
			Stdout: result.Stdout,
			Stderr: result.Stderr,
			Result: result.Data,
		},
		Artifacts: artifacts,
	}, ""
}

func errResponse(code, message string) protocol.ToolCallResponse {
	return protocol.ToolCallResponse{
		OK:    false,
		Error: &protocol.Error{Code: code, Message: message},
	}
}

// errResponseWithDetails is errResponse plus a structured details map, used
// where a caller needs to branch on a field rather than parse the message
// string (spec invariant 4: "details.reason == 'used'").
func errResponseWithDetails(code, message string, details map[string]any) protocol.ToolCallResponse {
	return protocol.ToolCallResponse{
		OK:    false,
		Error: &protocol.Error{Code: code, Message: message, Details: details},
	}
}
