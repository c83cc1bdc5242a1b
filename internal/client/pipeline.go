// Package client implements the Client Pipeline, per spec §4.11: a faithful
// pass-through to an external interactive CLI hosted in a terminal
// multiplexer pane, rather than the Tool Loop's structured agent turn.
// Grounded on internal/transport.Adapter's subprocess idiom, generalized
// from a long-lived NDJSON child to a `tmux` CLI invocation per send/reply
// cycle; the transcript reader mirrors the Transport Adapter's
// bufio.Scanner line-pump style.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Result is the three-state outcome of one reply collection, per spec
// §4.11 ("{success, partial, timedOut}").
type Result struct {
	Text      string
	Success   bool
	Partial   bool
	TimedOut  bool
}

// Pipeline attaches/creates a tmux session per workspace and relays text
// through send-keys, reading replies from the hosted CLI's JSONL transcript
// (preferred) or a pane-capture fallback. The pipeline injects nothing: no
// soul, no memory, no tool section (spec §4.11: "the pipeline injects
// nothing").
type Pipeline struct {
	tmuxBin       string
	clientCommand string
	replyTimeout  time.Duration
	endOfTurn     string

	mu      sync.Mutex
	offsets map[string]int64 // transcriptPath -> last read byte offset
}

// New constructs a Pipeline. clientCommand is the external CLI's launch
// command (workspace's `tmux.client` config key); replyTimeout bounds how
// long Send waits for output before reporting TimedOut.
func New(tmuxBin, clientCommand string, replyTimeout time.Duration) *Pipeline {
	if tmuxBin == "" {
		tmuxBin = "tmux"
	}
	if replyTimeout <= 0 {
		replyTimeout = 30 * time.Second
	}
	return &Pipeline{
		tmuxBin:       tmuxBin,
		clientCommand: clientCommand,
		replyTimeout:  replyTimeout,
		endOfTurn:     "\x04", // EOT sentinel, searched for in the pane capture by collectReply
		offsets:       make(map[string]int64),
	}
}

// sessionName derives a tmux session name from the workspace path, reusing
// route.SuggestWorkspace's suffix-taking idiom so names stay short and
// collision-resistant without a lookup table of their own.
func sessionName(workspacePath string) string {
	base := filepath.Base(strings.TrimRight(workspacePath, "/"))
	if base == "" || base == "." {
		base = "ws"
	}
	return "msgcode-" + base
}

// Send implements internal/orchestrator.ClientPipeline: attach/create the
// session, forward text verbatim via send-keys, then collect the reply.
func (p *Pipeline) Send(ctx context.Context, workspacePath, sessionKey, text string) (string, error) {
	name := sessionName(workspacePath)
	if err := p.ensureSession(ctx, name, workspacePath); err != nil {
		return "", fmt.Errorf("client pipeline: ensure session: %w", err)
	}
	if err := p.sendKeys(ctx, name, text); err != nil {
		return "", fmt.Errorf("client pipeline: send-keys: %w", err)
	}

	result := p.collectReply(ctx, name, workspacePath)
	switch {
	case result.Success:
		return result.Text, nil
	case result.TimedOut:
		return result.Text, fmt.Errorf("client pipeline: reply timed out after %s", p.replyTimeout)
	default:
		return result.Text, fmt.Errorf("client pipeline: partial reply")
	}
}

// Status reports whether a tmux session for workspacePath is alive, backing
// SessionAdmin.Status.
func (p *Pipeline) Status(workspacePath string) string {
	name := sessionName(workspacePath)
	cmd := exec.Command(p.tmuxBin, "has-session", "-t", name)
	if err := cmd.Run(); err != nil {
		return "not running"
	}
	return "running (" + name + ")"
}

// Stop kills the tmux session for workspacePath, backing SessionAdmin.Stop.
func (p *Pipeline) Stop(workspacePath string) error {
	name := sessionName(workspacePath)
	cmd := exec.Command(p.tmuxBin, "kill-session", "-t", name)
	out, err := cmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "session not found") {
		return fmt.Errorf("kill-session %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Snapshot captures the current pane content to a file under
// <ws>/.msgcode/snapshots/, backing SessionAdmin.Snapshot.
func (p *Pipeline) Snapshot(workspacePath string) (string, error) {
	name := sessionName(workspacePath)
	cmd := exec.Command(p.tmuxBin, "capture-pane", "-t", name, "-p", "-S", "-2000")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("capture-pane %s: %w", name, err)
	}

	dir := filepath.Join(workspacePath, ".msgcode", "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir snapshots dir: %w", err)
	}
	path := filepath.Join(dir, time.Now().UTC().Format("20060102T150405Z")+".txt")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// Escape sends a literal Escape keypress into the session, backing
// SessionAdmin.Escape (interrupting a stuck external CLI without killing
// the session).
func (p *Pipeline) Escape(workspacePath string) error {
	name := sessionName(workspacePath)
	cmd := exec.Command(p.tmuxBin, "send-keys", "-t", name, "Escape")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("send-keys Escape %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (p *Pipeline) ensureSession(ctx context.Context, name, workspacePath string) error {
	check := exec.CommandContext(ctx, p.tmuxBin, "has-session", "-t", name)
	if err := check.Run(); err == nil {
		return nil
	}

	args := []string{"new-session", "-d", "-s", name, "-c", workspacePath}
	if p.clientCommand != "" {
		args = append(args, p.clientCommand)
	}
	create := exec.CommandContext(ctx, p.tmuxBin, args...)
	out, err := create.CombinedOutput()
	if err != nil {
		return fmt.Errorf("new-session %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// sendKeys forwards text verbatim, escaping every metacharacter spec §4.11
// names (`\ " $ ; ` !` and control characters) before sending it through
// tmux's literal (-l) send-keys mode, then a separate Enter keystroke.
func (p *Pipeline) sendKeys(ctx context.Context, name, text string) error {
	escaped := escapeForSendKeys(text)
	send := exec.CommandContext(ctx, p.tmuxBin, "send-keys", "-t", name, "-l", "--", escaped)
	if out, err := send.CombinedOutput(); err != nil {
		return fmt.Errorf("send-keys %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	enter := exec.CommandContext(ctx, p.tmuxBin, "send-keys", "-t", name, "Enter")
	if out, err := enter.CombinedOutput(); err != nil {
		return fmt.Errorf("send-keys Enter %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

var sendKeysEscapes = map[rune]string{
	'\\': `\\`,
	'"':  `\"`,
	'$':  `\$`,
	';':  `\;`,
	'`':  "\\`",
	'!':  `\!`,
}

// escapeForSendKeys backslash-escapes tmux/shell metacharacters and strips
// control characters other than tab and newline, since -l literal mode still lets the
// receiving shell or REPL interpret them once typed.
func escapeForSendKeys(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if esc, ok := sendKeysEscapes[r]; ok {
			b.WriteString(esc)
			continue
		}
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collectReply polls the external CLI's JSONL transcript (preferred) or a
// pane-capture fallback until an end-of-turn marker appears or the reply
// timeout elapses.
func (p *Pipeline) collectReply(ctx context.Context, name, workspacePath string) Result {
	deadline := time.Now().Add(p.replyTimeout)
	transcriptPath := filepath.Join(workspacePath, ".msgcode", "transcript.jsonl")

	var collected strings.Builder
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		if lines, ok := p.readNewTranscriptLines(transcriptPath); ok {
			for _, line := range lines {
				text, isFinal := parseTranscriptLine(line)
				collected.WriteString(text)
				if isFinal {
					return Result{Text: collected.String(), Success: true}
				}
			}
		} else if pane, err := p.capturePane(ctx, name); err == nil {
			if idx := strings.Index(pane, p.endOfTurn); idx >= 0 {
				return Result{Text: pane[:idx], Success: true}
			}
			collected.Reset()
			collected.WriteString(pane)
		}

		if time.Now().After(deadline) {
			return Result{Text: collected.String(), TimedOut: true, Partial: collected.Len() > 0}
		}
		select {
		case <-ctx.Done():
			return Result{Text: collected.String(), TimedOut: true, Partial: collected.Len() > 0}
		case <-ticker.C:
		}
	}
}

// transcriptLine is the JSONL shape the hosted CLI is expected to emit per
// turn: {"role": "assistant", "content": "...", "final": true}.
type transcriptLine struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

func parseTranscriptLine(raw []byte) (text string, isFinal bool) {
	var tl transcriptLine
	if err := json.Unmarshal(raw, &tl); err != nil {
		return "", false
	}
	if tl.Role != "assistant" {
		return "", false
	}
	return tl.Content, tl.Final
}

// readNewTranscriptLines returns full JSONL lines appended since the last
// read, tracked by byte offset per transcript path (incremental reader per
// spec §4.11). An unterminated trailing line is left for a later read. ok is
// false when the file cannot be opened, stat'ed or seeked, signaling the
// caller to fall back to pane capture; the file's age is not checked.
func (p *Pipeline) readNewTranscriptLines(path string) (lines [][]byte, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false
	}

	p.mu.Lock()
	offset := p.offsets[path]
	p.mu.Unlock()

	if info.Size() < offset {
		offset = 0 // transcript was truncated/rotated
	}
	if info.Size() == offset {
		return nil, true // no new data, but the transcript is live
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, false
	}

	reader := bufio.NewReader(f)
	var newOffset = offset
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil {
			break
		}
		trimmed := bytes.TrimRight(line, "\n")
		if len(trimmed) > 0 {
			lines = append(lines, trimmed)
		}
		newOffset += int64(len(line))
	}

	p.mu.Lock()
	p.offsets[path] = newOffset
	p.mu.Unlock()

	return lines, true
}

func (p *Pipeline) capturePane(ctx context.Context, name string) (string, error) {
	cmd := exec.CommandContext(ctx, p.tmuxBin, "capture-pane", "-t", name, "-p", "-S", "-200")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
