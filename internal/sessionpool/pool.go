// Package sessionpool implements the Session Pool, per spec §4.12: one
// long-lived subprocess per (workspacePath, kind), NDJSON request/response
// multiplexing over the shared pkg/protocol.LineCodec, idle-timeout
// reaping, and single-retry crash self-heal. Grounded on
// internal/transport.Adapter's child-process lifecycle (ensureRunning,
// codec wiring, retry-with-backoff idiom), generalized from one fixed
// binary to a pool keyed by (workspacePath, kind).
package sessionpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/42atom/msgcode/internal/tools"
	"github.com/42atom/msgcode/pkg/protocol"
)

type key struct {
	workspacePath string
	kind          string
}

// entry is one live (or recently live) subprocess session.
type entry struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	codec    *protocol.LineCodec
	running  bool
	confirm  *tools.ConfirmRegistry
	idleTimer *time.Timer
	generation int
}

// Pool spawns and multiplexes per-(workspacePath,kind) subprocess sessions.
type Pool struct {
	mu      sync.Mutex
	entries map[key]*entry

	binPath     string
	idleTimeout time.Duration
}

// New constructs a Pool that spawns `bin session <workspacePath> --kind
// <kind> --idle-ms <idleTimeout>` on demand (spec §4.12).
func New(binPath string, idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	return &Pool{
		entries:     make(map[key]*entry),
		binPath:     binPath,
		idleTimeout: idleTimeout,
	}
}

// ConfirmRegistryFor returns the ConfirmRegistry bound to a session's
// current generation, spawning the session if needed, so the Tool Bus can
// validate desktop confirm tokens against the same generation the Session
// Pool tracks (spec §4.12: "the confirm-token cache is bound to the
// session's lifetime").
func (p *Pool) ConfirmRegistryFor(ctx context.Context, workspacePath, kind string) (*tools.ConfirmRegistry, error) {
	e, err := p.ensure(ctx, workspacePath, kind)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirm, nil
}

// Call implements tools.SessionCaller: one request/response round-trip
// against the (workspacePath, kind) session, with a single crash-restart
// retry (spec §4.12: "retries the current request once").
func (p *Pool) Call(ctx context.Context, workspacePath, kind, method string, params map[string]any) (map[string]any, error) {
	result, err := p.callOnce(ctx, workspacePath, kind, method, params)
	if err == nil {
		return result, nil
	}
	slog.Warn("sessionpool: call failed, restarting session and retrying once", "workspacePath", workspacePath, "kind", kind, "error", err)
	if restartErr := p.restart(ctx, workspacePath, kind); restartErr != nil {
		return nil, fmt.Errorf("restart session after failure (%v): %w", err, restartErr)
	}
	return p.callOnce(ctx, workspacePath, kind, method, params)
}

func (p *Pool) callOnce(ctx context.Context, workspacePath, kind, method string, params map[string]any) (map[string]any, error) {
	e, err := p.ensure(ctx, workspacePath, kind)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	codec := e.codec
	e.resetIdleLocked(p.idleTimeout, func() { p.reap(workspacePath, kind) })
	e.mu.Unlock()

	env, err := codec.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, env.Error
	}
	var out map[string]any
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &out); err != nil {
			return nil, fmt.Errorf("unmarshal session response: %w", err)
		}
	}
	return out, nil
}

func (p *Pool) ensure(ctx context.Context, workspacePath, kind string) (*entry, error) {
	k := key{workspacePath: workspacePath, kind: kind}

	p.mu.Lock()
	e, ok := p.entries[k]
	if !ok {
		e = &entry{confirm: tools.NewConfirmRegistry(newGenerationID(workspacePath, kind, 0))}
		p.entries[k] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return e, nil
	}
	return e, p.spawnLocked(ctx, workspacePath, kind, e)
}

func (p *Pool) restart(ctx context.Context, workspacePath, kind string) error {
	k := key{workspacePath: workspacePath, kind: kind}
	p.mu.Lock()
	e, ok := p.entries[k]
	p.mu.Unlock()
	if !ok {
		_, err := p.ensure(ctx, workspacePath, kind)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.confirm.Rebind(newGenerationID(workspacePath, kind, e.generation))
	return p.spawnLocked(ctx, workspacePath, kind, e)
}

// spawnLocked starts the subprocess. Caller must hold e.mu.
func (p *Pool) spawnLocked(ctx context.Context, workspacePath, kind string, e *entry) error {
	cmd := exec.CommandContext(ctx, p.binPath, "session", workspacePath, "--kind", kind,
		"--idle-ms", fmt.Sprintf("%d", p.idleTimeout.Milliseconds()))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%s: stdin pipe: %w", protocol.ErrTransportUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", protocol.ErrTransportUnavailable, err)
	}
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: spawn session: %w", protocol.ErrTransportUnavailable, err)
	}

	codec := protocol.NewLineCodec(stdin)
	codec.OnOrphan = func(env protocol.Envelope) {
		slog.Warn("sessionpool: response with no matching request", "workspacePath", workspacePath, "kind", kind, "id", env.ID)
	}

	e.cmd = cmd
	e.codec = codec
	e.running = true

	go func() {
		_ = codec.Run(bufio.NewReader(stdout))
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.resetIdleLocked(p.idleTimeout, func() { p.reap(workspacePath, kind) })
	return nil
}

// resetIdleLocked arms the idle-timeout reaper. Caller must hold e.mu.
func (e *entry) resetIdleLocked(d time.Duration, onIdle func()) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(d, onIdle)
}

// reap kills an idle session; the pool respawns it lazily on next use
// (spec §4.12: "idle timeout causes the child to exit; the pool restarts
// on next use").
func (p *Pool) reap(workspacePath, kind string) {
	k := key{workspacePath: workspacePath, kind: kind}
	p.mu.Lock()
	e, ok := p.entries[k]
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	e.running = false
}

// Close terminates every live session (process shutdown).
func (p *Pool) Close() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.idleTimer != nil {
			e.idleTimer.Stop()
		}
		if e.running && e.cmd != nil && e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
		e.mu.Unlock()
	}
}

func newGenerationID(workspacePath, kind string, generation int) string {
	return fmt.Sprintf("%s:%s:%d", workspacePath, kind, generation)
}
