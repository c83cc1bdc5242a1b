// Package ingress implements the Ingress Loop: a periodic poll of the
// transport, dedup/rate filtering, and per-chat ordered dispatch, per spec
// §4.4. Cross-chat concurrency is bounded with golang.org/x/sync/errgroup
// wrapping a semaphore, the same bounded-fan-out idiom the teacher uses for
// parallel tool-call execution (internal/agent/loop.go), reapplied here one
// level up at the chat-dispatch granularity.
package ingress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/42atom/msgcode/internal/dedup"
	"github.com/42atom/msgcode/internal/state"
	"github.com/42atom/msgcode/internal/transport"
	"github.com/42atom/msgcode/pkg/protocol"
)

// Dispatcher handles one fully ordered message for a chat. Implementations
// are the Runtime Orchestrator (via Command Router pre-filtering).
type Dispatcher func(ctx context.Context, msg protocol.Message) error

// IsWhitelisted decides whether an isFromMe message should be honored
// (spec §4.4: "isFromMe messages are honored only if from a whitelisted
// owner identity").
type IsWhitelisted func(senderID string) bool

// Loop runs the periodic transport poll and per-chat FIFO dispatch.
type Loop struct {
	adapter       *transport.Adapter
	state         *state.Store
	gate          *dedup.Gate
	dispatch      Dispatcher
	isWhitelisted IsWhitelisted

	tick        time.Duration
	parallelism int
	softLimit   int

	mu     sync.Mutex
	queues map[string]chan protocol.Message
	group  *errgroup.Group

	sem chan struct{} // global cross-chat concurrency ceiling
}

// Config parameterizes Loop construction.
type Config struct {
	Tick          time.Duration // default 2s
	Parallelism   int           // cross-chat concurrency ceiling
	SoftQueueCap  int           // per-chat soft backpressure limit, default 32
	IsWhitelisted IsWhitelisted
}

// New constructs a Loop.
func New(adapter *transport.Adapter, st *state.Store, gate *dedup.Gate, dispatch Dispatcher, cfg Config) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = 2 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.SoftQueueCap <= 0 {
		cfg.SoftQueueCap = 32
	}
	if cfg.IsWhitelisted == nil {
		cfg.IsWhitelisted = func(string) bool { return false }
	}
	return &Loop{
		adapter:       adapter,
		state:         st,
		gate:          gate,
		dispatch:      dispatch,
		isWhitelisted: cfg.IsWhitelisted,
		tick:          cfg.Tick,
		parallelism:   cfg.Parallelism,
		softLimit:     cfg.SoftQueueCap,
		queues:        make(map[string]chan protocol.Message),
		group:         &errgroup.Group{},
		sem:           make(chan struct{}, cfg.Parallelism),
	}
}

// Run polls until ctx is canceled. Each tick computes `since` with the
// overlap window, lists new transport messages, filters by cursor and the
// dedup gate, and enqueues onto the owning chat's FIFO.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	overlap := l.tick
	if overlap > time.Second {
		overlap = time.Second
	}

	var lastSince time.Time
	for {
		select {
		case <-ctx.Done():
			return l.drain()
		case <-ticker.C:
			since := lastSince.Add(-overlap)
			msgs, err := l.adapter.List(ctx, since)
			if err != nil {
				slog.Warn("ingress poll failed", "error", err)
				continue
			}
			lastSince = time.Now()
			for _, m := range msgs {
				l.handle(ctx, m)
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, m protocol.Message) {
	cursor := l.state.Get(m.ChatID)
	if m.RowID <= cursor.LastSeenRowID {
		return
	}
	if m.IsFromMe && !l.isWhitelisted(m.SenderID) {
		slog.Debug("dropping isFromMe message from non-whitelisted sender", "chatId", m.ChatID, "senderId", m.SenderID)
		return
	}
	if l.gate.SeenBefore(m.ID) {
		return
	}
	if l.gate.DuplicateContent(m.ChatID, m.Text) {
		return
	}
	if !l.gate.Allow(m.ChatID) {
		slog.Debug("rate-limited inbound message", "chatId", m.ChatID)
		return
	}

	if err := l.state.Advance(m.ChatID, m.RowID, m.ID, m.Ts); err != nil {
		slog.Warn("state advance failed", "chatId", m.ChatID, "error", err)
	}

	l.enqueue(ctx, m)
}

func (l *Loop) enqueue(ctx context.Context, m protocol.Message) {
	l.mu.Lock()
	q, ok := l.queues[m.ChatID]
	if !ok {
		q = make(chan protocol.Message, l.softLimit)
		l.queues[m.ChatID] = q
		chatID := m.ChatID
		l.group.Go(func() error {
			l.runChatWorker(ctx, chatID, q)
			return nil
		})
	}
	l.mu.Unlock()

	select {
	case q <- m:
	default:
		// Backpressure: per spec §5, user-sourced messages are never
		// dropped, so block briefly rather than discard.
		select {
		case q <- m:
		case <-time.After(2 * time.Second):
			slog.Warn("chat queue backpressure, message delayed", "chatId", m.ChatID)
			q <- m
		}
	}
}

// runChatWorker processes one chat's queue strictly in order, forever (per
// spec §4.4: "within a chat, turns run strictly in order"). The shared
// semaphore bounds how many chat workers may be actively dispatching at
// once, giving the "across chats, up to a configurable ceiling" guarantee
// without weakening per-chat ordering (this worker only ever holds one
// message in flight at a time).
func (l *Loop) runChatWorker(ctx context.Context, chatID string, q chan protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q:
			if !ok {
				return
			}
			select {
			case l.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			if err := l.dispatch(ctx, m); err != nil {
				slog.Warn("dispatch failed", "chatId", chatID, "error", err)
			}
			<-l.sem
		}
	}
}

func (l *Loop) drain() error {
	l.mu.Lock()
	for _, q := range l.queues {
		close(q)
	}
	l.mu.Unlock()
	return l.group.Wait()
}
