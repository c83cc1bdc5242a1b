package orchestrator

import (
	"context"
	"testing"

	"github.com/42atom/msgcode/internal/agent"
	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/providers"
	"github.com/42atom/msgcode/internal/route"
	"github.com/42atom/msgcode/internal/tools"
	"github.com/42atom/msgcode/pkg/protocol"
)

type fakeSender struct {
	lastChatID, lastText string
}

func (f *fakeSender) Send(ctx context.Context, chatID, text string, attachments []string) (protocol.Ack, error) {
	f.lastChatID, f.lastText = chatID, text
	return protocol.Ack{ID: "1"}, nil
}

type scriptedProvider struct{ response providers.ChatResponse }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &p.response, nil
}
func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "test" }

func TestDispatchRunsAgentPipelineAndSendsReply(t *testing.T) {
	ws := t.TempDir()
	routeStore, err := route.Open(t.TempDir()+"/routes.json", ws)
	if err != nil {
		t.Fatalf("open route store: %v", err)
	}
	if _, err := routeStore.Put(route.Entry{ChatID: "c1", WorkspacePath: ws, Status: route.StatusActive}); err != nil {
		t.Fatalf("put route: %v", err)
	}

	provider := &scriptedProvider{response: providers.ChatResponse{Content: "hi there"}}
	loop := agent.New(agent.Config{
		Provider: provider,
		Bus:      tools.NewBus(tools.NewRegistry(), tools.NewConfirmRegistry("sess-1")),
		Steer:    intervention.New(),
	})

	sender := &fakeSender{}
	wsCfg := config.WorkspaceConfig{}
	orch := New(Config{
		Routes: routeStore,
		Steer:  intervention.New(),
		ResourcesFor: func(workspacePath string) (*WorkspaceResources, error) {
			return &WorkspaceResources{Config: &wsCfg, Loop: loop}, nil
		},
		Transport: sender,
	})

	err = orch.Dispatch(context.Background(), protocol.Message{ChatID: "c1", Text: "hello"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText != "hi there" {
		t.Fatalf("expected reply sent, got %q", sender.lastText)
	}
}

func TestDispatchDropsMessageWithNoActiveRoute(t *testing.T) {
	routeStore, err := route.Open(t.TempDir()+"/routes.json", t.TempDir())
	if err != nil {
		t.Fatalf("open route store: %v", err)
	}
	sender := &fakeSender{}
	orch := New(Config{
		Routes:    routeStore,
		Steer:     intervention.New(),
		Transport: sender,
	})

	if err := orch.Dispatch(context.Background(), protocol.Message{ChatID: "unknown", Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.lastText != "" {
		t.Fatalf("expected no reply sent for unrouted chat")
	}
}
