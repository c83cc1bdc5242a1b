// Package transport implements the Transport Adapter: subprocess lifecycle
// and line-JSON RPC to the messaging binary, per spec §4.1. It is the only
// module allowed to invoke the transport binary.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/42atom/msgcode/pkg/protocol"
)

// Adapter wraps the messaging binary as a long-lived child process and
// exposes the three operations named in spec §4.1: list, send, mark.
type Adapter struct {
	binPath string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	codec   *protocol.LineCodec
	running bool

	callTimeout time.Duration
	maxBackoff  time.Duration
}

// New constructs an Adapter for the given binary path and fixed args.
func New(binPath string, args []string, callTimeout time.Duration) *Adapter {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Adapter{
		binPath:     binPath,
		args:        args,
		callTimeout: callTimeout,
		maxBackoff:  30 * time.Second,
	}
}

// ensureRunning spawns the child process on demand, matching spec's "Launches
// the messaging binary as a child process on demand".
func (a *Adapter) ensureRunning(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, a.binPath, a.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%s: stdin pipe: %w", protocol.ErrTransportUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", protocol.ErrTransportUnavailable, err)
	}
	cmd.Stderr = nil
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: spawn: %w", protocol.ErrTransportUnavailable, err)
	}

	codec := protocol.NewLineCodec(stdin)
	codec.OnOrphan = func(env protocol.Envelope) {
		slog.Warn("transport response with no matching request", "id", env.ID)
	}

	a.cmd = cmd
	a.codec = codec
	a.running = true

	go func() {
		_ = codec.Run(bufio.NewReader(stdout))
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	return nil
}

func (a *Adapter) call(ctx context.Context, method string, params, out any) error {
	if err := a.ensureRunning(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	a.mu.Lock()
	codec := a.codec
	a.mu.Unlock()

	env, err := codec.Call(callCtx, method, params)
	if err != nil {
		if callCtx.Err() != nil {
			return fmt.Errorf("%s: %s", protocol.ErrTransportTimeout, method)
		}
		return fmt.Errorf("%s: %w", protocol.ErrTransportUnavailable, err)
	}
	if env.Error != nil {
		return env.Error
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

// List fetches messages newer than since, per spec §4.1/§6.
func (a *Adapter) List(ctx context.Context, since time.Time) ([]protocol.Message, error) {
	var out []protocol.Message
	err := a.withRetry(ctx, func(ctx context.Context) error {
		return a.call(ctx, "list", map[string]any{"sinceTs": since.UTC().Format(time.RFC3339Nano)}, &out)
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ChatID = NormalizeChatID(out[i].ChatID)
		out[i].SenderID = NormalizeSenderID(out[i].SenderID)
	}
	return out, nil
}

// Send delivers text (and optional attachment paths) to chatID.
func (a *Adapter) Send(ctx context.Context, chatID, text string, attachments []string) (protocol.Ack, error) {
	var ack protocol.Ack
	err := a.withRetry(ctx, func(ctx context.Context) error {
		return a.call(ctx, "send", map[string]any{
			"chatId":      NormalizeChatID(chatID),
			"text":        text,
			"attachments": attachments,
		}, &ack)
	})
	return ack, err
}

// Mark advances the transport's own read cursor for chatID.
func (a *Adapter) Mark(ctx context.Context, chatID string, lastRowid int64) error {
	return a.withRetry(ctx, func(ctx context.Context) error {
		return a.call(ctx, "mark", map[string]any{
			"chatId":    NormalizeChatID(chatID),
			"lastRowid": lastRowid,
		}, nil)
	})
}

// withRetry retries transient failures with bounded exponential backoff,
// per spec §4.1 ("the caller retries with exponential backoff up to a
// bounded ceiling").
func (a *Adapter) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > a.maxBackoff {
				backoff = a.maxBackoff
			}
			continue
		}
		return nil
	}
	return lastErr
}

// Close terminates the child process, if running.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	return a.cmd.Process.Kill()
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizeChatID reduces a chat identifier to a stable suffix form, per
// spec §4.1 ("chatId is reduced to a stable suffix form").
func NormalizeChatID(chatID string) string {
	trimmed := strings.TrimSpace(chatID)
	if idx := strings.LastIndexByte(trimmed, ':'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return strings.ToLower(trimmed)
}

// NormalizeSenderID lowercases emails and strips non-digits from phone-like
// identifiers, per spec §4.1 ("lowercased and phone-digit-normalized for
// whitelist comparison").
func NormalizeSenderID(senderID string) string {
	s := strings.TrimSpace(senderID)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	digits := nonDigits.ReplaceAllString(s, "")
	if digits != "" {
		return digits
	}
	return strings.ToLower(s)
}
