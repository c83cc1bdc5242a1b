package tools

import (
	"context"
	"testing"
	"time"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/pkg/protocol"
)

type fakeDesktopTool struct{}

func (fakeDesktopTool) Name() string { return "desktop" }
func (fakeDesktopTool) Execute(ctx context.Context, args map[string]any) *Result {
	return Ok("done")
}

func TestBusRejectsReusedConfirmTokenWithUsedReason(t *testing.T) {
	registry := NewRegistry()
	registry.Register(fakeDesktopTool{})
	confirm := NewConfirmRegistry("session-1")
	bus := NewBus(registry, confirm)

	intent := Intent{Method: "desktop.typeText", Params: map[string]any{"text": "hi"}}
	token := confirm.Issue(intent, time.Minute)

	gate := GateConfig{Tooling: config.ToolingConfig{}, Policy: config.PolicyConfig{Mode: config.PolicyEgressAllowed}}
	req := protocol.ToolCallRequest{
		Tool:    "desktop",
		Method:  intent.Method,
		Params:  intent.Params,
		Confirm: &protocol.ConfirmRef{Token: token.Value},
	}

	first := bus.Dispatch(context.Background(), req, gate, "user")
	if !first.OK {
		t.Fatalf("expected first presentation to succeed, got %+v", first.Error)
	}

	second := bus.Dispatch(context.Background(), req, gate, "user")
	if second.OK || second.Error == nil {
		t.Fatalf("expected second presentation of a consumed token to fail")
	}
	if second.Error.Code != protocol.ErrDesktopConfirmRequired {
		t.Fatalf("expected %s, got %s", protocol.ErrDesktopConfirmRequired, second.Error.Code)
	}
	if got := second.Error.Details["reason"]; got != "used" {
		t.Fatalf("expected details.reason == \"used\", got %v", got)
	}
}
