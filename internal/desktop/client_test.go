package desktop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeCaller struct {
	lastMethod string
	lastParams map[string]any
	response   map[string]any
	err        error
}

func (f *fakeCaller) Call(ctx context.Context, workspacePath, kind, method string, params map[string]any) (map[string]any, error) {
	f.lastMethod = method
	f.lastParams = params
	return f.response, f.err
}

func TestPingReturnsStatus(t *testing.T) {
	caller := &fakeCaller{response: map[string]any{"status": "healthy"}}
	c := New(caller)
	status, err := c.Ping(context.Background(), "/tmp/ws")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if status != "healthy" {
		t.Fatalf("expected status healthy, got %q", status)
	}
	if caller.lastMethod != "ping" {
		t.Fatalf("expected ping method, got %q", caller.lastMethod)
	}
}

func TestObservePersistsArtifacts(t *testing.T) {
	dir := t.TempDir()
	caller := &fakeCaller{response: map[string]any{"screen": "main"}}
	c := New(caller)

	summary, err := c.Observe(context.Background(), dir)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if summary == "" {
		t.Fatalf("expected non-empty summary")
	}

	matches, err := filepath.Glob(filepath.Join(dir, "artifacts", "desktop", "*", "*", "observe.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one persisted artifact, got %d", len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty artifact content")
	}
}

func TestIssueConfirmDelegatesToConfirmIssueMethod(t *testing.T) {
	caller := &fakeCaller{response: map[string]any{"token": "tok-123"}}
	c := New(caller)

	token, err := c.IssueConfirm(context.Background(), "/tmp/ws", "click")
	if err != nil {
		t.Fatalf("IssueConfirm: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("expected token tok-123, got %q", token)
	}
	if caller.lastMethod != "confirm.issue" {
		t.Fatalf("expected confirm.issue method, got %q", caller.lastMethod)
	}
	intent, _ := caller.lastParams["intent"].(map[string]any)
	if intent["method"] != "click" {
		t.Fatalf("expected intent.method=click, got %+v", intent)
	}
}
