package command

import (
	"context"
	"testing"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/route"
	"github.com/42atom/msgcode/internal/state"
)

func TestIdentifyAndParse(t *testing.T) {
	verb, ok := Identify("/bind /tmp/ws label here")
	if !ok || verb != "bind" {
		t.Fatalf("expected bind, got %q ok=%v", verb, ok)
	}
	if args := Parse("/bind /tmp/ws label here"); len(args) != 3 || args[0] != "/tmp/ws" {
		t.Fatalf("unexpected args: %+v", args)
	}
	if _, ok := Identify("not a command"); ok {
		t.Fatalf("expected non-command text to be unrecognized")
	}
}

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	root := t.TempDir()
	routes, err := route.Open(root+"/routes.json", root)
	if err != nil {
		t.Fatalf("open routes: %v", err)
	}
	states, err := state.Open(root + "/state.json")
	if err != nil {
		t.Fatalf("open states: %v", err)
	}
	cfg := config.WorkspaceConfig{}
	r := New(Config{
		Routes: routes,
		States: states,
		Steer:  intervention.New(),
		ConfigFor: func(workspacePath string) (*config.WorkspaceConfig, error) {
			return &cfg, nil
		},
		SoulDir: func() string { return root + "/souls" },
		Owner:   NewOwnerRegistry("", false),
	})
	return r, root
}

func TestHandleBindAndWhere(t *testing.T) {
	r, root := newTestRouter(t)
	ctx := context.Background()

	reply, handled, err := r.Handle(ctx, "chat1", "", "/bind "+root)
	if err != nil || !handled {
		t.Fatalf("bind: reply=%q handled=%v err=%v", reply, handled, err)
	}

	reply, handled, err = r.Handle(ctx, "chat1", root, "/where")
	if err != nil || !handled {
		t.Fatalf("where: handled=%v err=%v", handled, err)
	}
	if reply == "" {
		t.Fatalf("expected non-empty /where reply")
	}
}

func TestHandleIgnoresNonCommandText(t *testing.T) {
	r, _ := newTestRouter(t)
	_, handled, err := r.Handle(context.Background(), "chat1", "", "just chatting")
	if err != nil || handled {
		t.Fatalf("expected unhandled, got handled=%v err=%v", handled, err)
	}
}

type fakeConversationAdmin struct {
	resetWorkspace string
	resetChatID    string
	calls          int
}

func (f *fakeConversationAdmin) ResetConversation(workspacePath, chatID string) error {
	f.resetWorkspace = workspacePath
	f.resetChatID = chatID
	f.calls++
	return nil
}

func TestHandleClearResetsConversation(t *testing.T) {
	root := t.TempDir()
	routes, err := route.Open(root+"/routes.json", root)
	if err != nil {
		t.Fatalf("open routes: %v", err)
	}
	states, err := state.Open(root + "/state.json")
	if err != nil {
		t.Fatalf("open states: %v", err)
	}
	admin := &fakeConversationAdmin{}
	r := New(Config{
		Routes:       routes,
		States:       states,
		Steer:        intervention.New(),
		Owner:        NewOwnerRegistry("", false),
		Conversation: admin,
	})

	reply, handled, err := r.Handle(context.Background(), "chat1", root, "/clear")
	if err != nil || !handled {
		t.Fatalf("clear: reply=%q handled=%v err=%v", reply, handled, err)
	}
	if admin.calls != 1 || admin.resetChatID != "chat1" || admin.resetWorkspace != root {
		t.Fatalf("expected ResetConversation(%q, chat1), got workspace=%q chatID=%q calls=%d", root, admin.resetWorkspace, admin.resetChatID, admin.calls)
	}
}

func TestHandleClearWithoutAdminFails(t *testing.T) {
	r, root := newTestRouter(t)
	reply, handled, err := r.Handle(context.Background(), "chat1", root, "/clear")
	if err != nil || !handled {
		t.Fatalf("clear: reply=%q handled=%v err=%v", reply, handled, err)
	}
	if reply == "" {
		t.Fatalf("expected a failure message when no conversation admin is configured")
	}
}

func TestHandlePiTogglePersists(t *testing.T) {
	r, root := newTestRouter(t)
	ctx := context.Background()

	reply, _, err := r.Handle(ctx, "chat1", root, "/pi on")
	if err != nil || reply == "" {
		t.Fatalf("pi on: reply=%q err=%v", reply, err)
	}
	reply, _, err = r.Handle(ctx, "chat1", root, "/pi")
	if err != nil {
		t.Fatalf("pi query: %v", err)
	}
	if reply != "pi.enabled: true" {
		t.Fatalf("expected pi.enabled to persist, got %q", reply)
	}
}
