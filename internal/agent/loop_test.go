package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/providers"
	"github.com/42atom/msgcode/internal/tools"
)

type scriptedProvider struct {
	responses []providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return &resp, nil
}
func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "test" }

func newTestBus(ws string) *tools.Bus {
	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(ws))
	registry.Register(tools.NewBashTool(ws))
	return tools.NewBus(registry, tools.NewConfirmRegistry("sess-1"))
}

func fullGate() tools.GateConfig {
	return tools.GateConfig{
		Tooling: config.ToolingConfig{Mode: config.ToolingAutonomous},
		Policy:  config.PolicyConfig{Mode: config.PolicyEgressAllowed},
	}
}

func TestLoopReturnsFinalContentWithoutToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []providers.ChatResponse{{Content: "hello there"}}}
	loop := New(Config{Provider: p, Bus: newTestBus(t.TempDir()), Steer: intervention.New()})

	res, err := loop.Run(context.Background(), Request{ChatID: "c1", Gate: fullGate()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed() || res.Content != "hello there" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLoopEmptyResponseFails(t *testing.T) {
	p := &scriptedProvider{responses: []providers.ChatResponse{{Content: ""}}}
	loop := New(Config{Provider: p, Bus: newTestBus(t.TempDir()), Steer: intervention.New()})

	res, err := loop.Run(context.Background(), Request{ChatID: "c1", Gate: fullGate()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() || res.FailedCode != "EMPTY_RESPONSE" {
		t.Fatalf("expected EMPTY_RESPONSE, got %+v", res)
	}
}

func TestLoopExecutesToolCallThenReplies(t *testing.T) {
	p := &scriptedProvider{responses: []providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "bash", Args: map[string]any{"command": "echo hi"}}}, FinishReason: "tool_calls"},
		{Content: "done"},
	}}
	loop := New(Config{Provider: p, Bus: newTestBus(t.TempDir()), Steer: intervention.New()})

	res, err := loop.Run(context.Background(), Request{ChatID: "c1", Gate: fullGate()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed() || res.Content != "done" || res.RoundsUsed != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

type malformedArgsProvider struct{}

func (malformedArgsProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return nil, &providers.MalformedToolCallError{ToolName: "bash", Err: errBadJSON}
}
func (malformedArgsProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return nil, &providers.MalformedToolCallError{ToolName: "bash", Err: errBadJSON}
}
func (malformedArgsProvider) DefaultModel() string { return "test-model" }
func (malformedArgsProvider) Name() string         { return "test" }

var errBadJSON = errors.New("unexpected end of JSON input")

func TestLoopFailShortOnMalformedToolArgs(t *testing.T) {
	loop := New(Config{Provider: malformedArgsProvider{}, Bus: newTestBus(t.TempDir()), Steer: intervention.New()})

	res, err := loop.Run(context.Background(), Request{ChatID: "c1", Gate: fullGate()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() || res.FailedCode != "TOOL_ARG_INVALID" {
		t.Fatalf("expected TOOL_ARG_INVALID fail-short, got %+v", res)
	}
}

func TestLoopFailShortOnToolError(t *testing.T) {
	p := &scriptedProvider{responses: []providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "bash", Args: map[string]any{"command": "rm -rf /"}}}, FinishReason: "tool_calls"},
		{Content: "should never be reached"},
	}}
	loop := New(Config{Provider: p, Bus: newTestBus(t.TempDir()), Steer: intervention.New()})

	res, err := loop.Run(context.Background(), Request{ChatID: "c1", Gate: fullGate()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() || res.FailedCode != "TOOL_NOT_ALLOWED" {
		t.Fatalf("expected fail-short on denied command, got %+v", res)
	}
}
