package tools

import (
	"context"
	"testing"
)

func TestBashToolRunsCommand(t *testing.T) {
	ws := t.TempDir()
	bash := NewBashTool(ws)
	res := bash.Execute(context.Background(), map[string]any{"command": "echo hi"})
	if res.IsError() {
		t.Fatalf("bash failed: %s", res.ErrorMsg)
	}
	if res.Stdout != "hi\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
}

func TestBashToolDeniesDestructiveCommand(t *testing.T) {
	ws := t.TempDir()
	bash := NewBashTool(ws)
	res := bash.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if !res.IsError() {
		t.Fatalf("expected destructive command to be denied")
	}
}
