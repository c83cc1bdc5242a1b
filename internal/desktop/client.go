// Package desktop implements the Desktop client, an EXPANSION per
// SPEC_FULL.md §4.16: a JSON-RPC 2.0 duplex-pipe client for the desktop
// automation host named only as an external collaborator contract in
// spec.md §6. It is multiplexed through the Session Pool as a
// (workspacePath, kind="desktop") subprocess — the same reuse of
// pkg/protocol.LineCodec the Transport Adapter and Session Pool already
// share — rather than spawning its own process.
package desktop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Caller is the Session Pool's call surface this client needs; satisfied by
// *internal/sessionpool.Pool.
type Caller interface {
	Call(ctx context.Context, workspacePath, kind, method string, params map[string]any) (map[string]any, error)
}

// Client wraps a Caller with the typed method surface named in spec §6.
type Client struct {
	caller Caller
}

func New(caller Caller) *Client {
	return &Client{caller: caller}
}

func (c *Client) call(ctx context.Context, workspacePath, method string, params map[string]any) (map[string]any, error) {
	return c.caller.Call(ctx, workspacePath, "desktop", method, params)
}

// Ping checks liveness of the desktop host.
func (c *Client) Ping(ctx context.Context, workspacePath string) (string, error) {
	res, err := c.call(ctx, workspacePath, "ping", nil)
	if err != nil {
		return "", err
	}
	return stringField(res, "status", "ok"), nil
}

// Doctor runs the desktop host's self-diagnostic and reports a summary.
func (c *Client) Doctor(ctx context.Context, workspacePath string) (string, error) {
	res, err := c.call(ctx, workspacePath, "doctor", nil)
	if err != nil {
		return "", err
	}
	return summarize(res), nil
}

// Observe captures the current screen state and persists evidence
// artifacts under <ws>/artifacts/desktop/<date>/<executionId>/, per spec
// §4.16.
func (c *Client) Observe(ctx context.Context, workspacePath string) (string, error) {
	res, err := c.call(ctx, workspacePath, "observe", nil)
	if err != nil {
		return "", err
	}
	dir, err := c.persistArtifacts(workspacePath, "observe", res)
	if err != nil {
		return "", fmt.Errorf("persist observe artifacts: %w", err)
	}
	return fmt.Sprintf("%s (artifacts: %s)", summarize(res), dir), nil
}

// Find locates an anchor (accessibility element) matching a selector.
func (c *Client) Find(ctx context.Context, workspacePath string, selector map[string]any) (map[string]any, error) {
	return c.call(ctx, workspacePath, "find", map[string]any{"selector": selector})
}

// Click performs a click on a located anchor.
func (c *Client) Click(ctx context.Context, workspacePath string, anchorID string) (map[string]any, error) {
	return c.call(ctx, workspacePath, "click", map[string]any{"anchorId": anchorID})
}

// TypeText types literal text into the focused element.
func (c *Client) TypeText(ctx context.Context, workspacePath, text string) (map[string]any, error) {
	return c.call(ctx, workspacePath, "typeText", map[string]any{"text": text})
}

// Hotkey sends a keyboard shortcut (e.g. "cmd+s").
func (c *Client) Hotkey(ctx context.Context, workspacePath, combo string) (map[string]any, error) {
	return c.call(ctx, workspacePath, "hotkey", map[string]any{"combo": combo})
}

// WaitUntil polls until a selector appears or the timeout elapses.
func (c *Client) WaitUntil(ctx context.Context, workspacePath string, selector map[string]any, timeoutMs int) (map[string]any, error) {
	return c.call(ctx, workspacePath, "waitUntil", map[string]any{"selector": selector, "timeoutMs": timeoutMs})
}

// ListModals reports currently blocking modal dialogs.
func (c *Client) ListModals(ctx context.Context, workspacePath string) ([]map[string]any, error) {
	res, err := c.call(ctx, workspacePath, "listModals", nil)
	if err != nil {
		return nil, err
	}
	return toModalList(res), nil
}

// DismissModal closes a named blocking modal.
func (c *Client) DismissModal(ctx context.Context, workspacePath, modalID string) (map[string]any, error) {
	return c.call(ctx, workspacePath, "dismissModal", map[string]any{"modalId": modalID})
}

// Abort cancels any in-flight desktop action.
func (c *Client) Abort(ctx context.Context, workspacePath string) error {
	_, err := c.call(ctx, workspacePath, "abort", nil)
	return err
}

// ConfirmIssue requests a confirm token for a destructive/UI intent,
// delegating to the desktop host's own confirm-token issuer
// (`desktop.confirm.issue`, spec §4.9).
func (c *Client) ConfirmIssue(ctx context.Context, workspacePath, method string, params map[string]any, ttlMs int) (string, error) {
	res, err := c.call(ctx, workspacePath, "confirm.issue", map[string]any{
		"intent":  map[string]any{"method": method, "params": params},
		"ttlMs":   ttlMs,
	})
	if err != nil {
		return "", err
	}
	return stringField(res, "token", ""), nil
}

// IssueConfirm implements internal/command.DesktopAdmin: a simplified
// confirm-issue for the command surface, with a default TTL and no params
// (full-parameter confirms are issued through the desktop tool during a
// turn, not the command surface — see cmdDesktop's rpc/shortcut rejection).
func (c *Client) IssueConfirm(ctx context.Context, workspacePath, method string) (string, error) {
	return c.ConfirmIssue(ctx, workspacePath, method, nil, 60_000)
}

// Health reports the desktop host's own health payload verbatim as a
// summary string.
func (c *Client) Health(ctx context.Context, workspacePath string) (string, error) {
	res, err := c.call(ctx, workspacePath, "health", nil)
	if err != nil {
		return "", err
	}
	return summarize(res), nil
}

func (c *Client) persistArtifacts(workspacePath, executionKind string, payload map[string]any) (string, error) {
	date := time.Now().UTC().Format("2006-01-02")
	executionID := uuid.NewString()
	dir := filepath.Join(workspacePath, "artifacts", "desktop", date, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, executionKind+".json"), data, 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func summarize(m map[string]any) string {
	if m == nil {
		return "(no response)"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}

func toModalList(m map[string]any) []map[string]any {
	raw, ok := m["modals"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if modal, ok := item.(map[string]any); ok {
			out = append(out, modal)
		}
	}
	return out
}
