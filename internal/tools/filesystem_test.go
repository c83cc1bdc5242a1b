package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestReadWriteFileRoundTrip(t *testing.T) {
	ws := t.TempDir()
	write := NewWriteFileTool(ws)
	res := write.Execute(context.Background(), map[string]any{"path": "notes.txt", "content": "hello"})
	if res.IsError() {
		t.Fatalf("write_file failed: %s", res.ErrorMsg)
	}

	read := NewReadFileTool(ws)
	res = read.Execute(context.Background(), map[string]any{"path": "notes.txt"})
	if res.IsError() || res.Stdout != "hello" {
		t.Fatalf("read_file got %+v", res)
	}
}

func TestReadFileRejectsEscape(t *testing.T) {
	ws := t.TempDir()
	read := NewReadFileTool(ws)
	res := read.Execute(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if !res.IsError() {
		t.Fatalf("expected path escape to be rejected")
	}
}

func TestReadFileRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("top secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(ws, "link.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Fatal(err)
	}

	read := NewReadFileTool(ws)
	res := read.Execute(context.Background(), map[string]any{"path": "link.txt"})
	if !res.IsError() {
		t.Fatalf("expected symlink escape to be rejected, got %+v", res)
	}
}

func TestEditFileAmbiguousMatch(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "dup.txt")
	if err := os.WriteFile(path, []byte("foo\nfoo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFileTool(ws)
	res := edit.Execute(context.Background(), map[string]any{
		"path": "dup.txt",
		"patches": []any{
			map[string]any{"oldText": "foo", "newText": "bar"},
		},
	})
	if !res.IsError() {
		t.Fatalf("expected ambiguous-match error")
	}
}

func TestEditFileNotFound(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "f.txt")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFileTool(ws)
	res := edit.Execute(context.Background(), map[string]any{
		"path": "f.txt",
		"patches": []any{
			map[string]any{"oldText": "xyz", "newText": "123"},
		},
	})
	if !res.IsError() {
		t.Fatalf("expected not-found error")
	}
}
