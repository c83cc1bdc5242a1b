// Package orchestrator implements the Runtime Orchestrator, per spec §4.6:
// the per-turn coordinator that resolves the active route, builds request
// context, consults the Intervention Queue, assembles the provider context,
// runs the active pipeline (agent or client), and records the outcome to
// the Thread Journal and the transport. Grounded on the teacher's top-level
// dispatch idiom (internal/agent/loop.go's single entrypoint per inbound
// message) generalized to msgcode's route-resolved, pluggable pipelines.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/42atom/msgcode/internal/agent"
	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/internal/contextbuild"
	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/journal"
	"github.com/42atom/msgcode/internal/memory"
	"github.com/42atom/msgcode/internal/route"
	"github.com/42atom/msgcode/internal/tools"
	"github.com/42atom/msgcode/pkg/protocol"
	"github.com/42atom/msgcode/pkg/soul"
)

// ClientPipeline is the interface the tmux-backed Client Pipeline
// implements (internal/client.Pipeline), kept narrow here to avoid
// importing that package's tmux/pty dependency graph into every caller of
// orchestrator.New.
type ClientPipeline interface {
	Send(ctx context.Context, workspacePath, sessionKey, text string) (string, error)
}

// CommandRouter intercepts text starting with "/" before it reaches either
// pipeline, per spec §4.5. A nil router means no commands are recognized
// (used in tests).
type CommandRouter interface {
	// Handle returns handled=false if text is not a recognized command.
	Handle(ctx context.Context, chatID, workspacePath, text string) (reply string, handled bool, err error)
}

// WorkspaceResources bundles the per-workspace long-lived collaborators a
// route resolves to: config, memory store, journal, and tool bus. The
// Gateway entrypoint constructs and caches one of these per distinct
// workspace path.
type WorkspaceResources struct {
	Config  *config.WorkspaceConfig
	Memory  *memory.Store
	Journal *journal.Journal
	Window  *contextbuild.Window
	Bus     *tools.Bus
	Loop    *agent.Loop
	Client  ClientPipeline
}

// ResourcesFor resolves (constructing and caching if needed) the
// WorkspaceResources for a workspace path.
type ResourcesFor func(workspacePath string) (*WorkspaceResources, error)

// Sender is the outbound half of the Transport Adapter this package
// depends on (*transport.Adapter satisfies it); narrowed to an interface
// so tests can supply a fake without spawning a child process.
type Sender interface {
	Send(ctx context.Context, chatID, text string, attachments []string) (protocol.Ack, error)
}

// Orchestrator wires the Route Store, Intervention Queue, Context
// Assembler and the per-workspace pipelines into one per-message
// Dispatcher, for use with internal/ingress.Loop.
type Orchestrator struct {
	routes        *route.Store
	steer         *intervention.Queue
	resourcesFor  ResourcesFor
	transport     Sender
	commands      CommandRouter
	globalSoulDir string
	turnCounter   map[string]int
}

// Config parameterizes Orchestrator construction.
type Config struct {
	Routes        *route.Store
	Steer         *intervention.Queue
	ResourcesFor  ResourcesFor
	Transport     Sender
	Commands      CommandRouter
	GlobalSoulDir string
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		routes:        cfg.Routes,
		steer:         cfg.Steer,
		resourcesFor:  cfg.ResourcesFor,
		transport:     cfg.Transport,
		commands:      cfg.Commands,
		globalSoulDir: cfg.GlobalSoulDir,
		turnCounter:   make(map[string]int),
	}
}

// Dispatch is the internal/ingress.Dispatcher this orchestrator exposes.
func (o *Orchestrator) Dispatch(ctx context.Context, msg protocol.Message) error {
	entry, ok := o.routes.Get(msg.ChatID)
	if !ok || entry.Status != route.StatusActive {
		slog.Debug("orchestrator: no active route for chat, dropping", "chatId", msg.ChatID)
		return nil
	}

	if o.commands != nil {
		if reply, handled, err := o.commands.Handle(ctx, msg.ChatID, entry.WorkspacePath, msg.Text); err != nil {
			slog.Warn("command router failed", "chatId", msg.ChatID, "error", err)
		} else if handled {
			_, sendErr := o.transport.Send(ctx, msg.ChatID, reply, nil)
			return sendErr
		}
	}

	res, err := o.resourcesFor(entry.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace resources: %w", err)
	}

	var reply string
	switch res.Config.Runtime.Kind {
	case config.RuntimeClient:
		reply, err = o.runClient(ctx, entry, res, msg)
	default:
		reply, err = o.runAgent(ctx, entry, res, msg)
	}
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}

	if _, err := o.transport.Send(ctx, msg.ChatID, reply, nil); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	o.recordTurn(res, entry, msg.Text, reply)
	return nil
}

func (o *Orchestrator) runClient(ctx context.Context, entry route.Entry, res *WorkspaceResources, msg protocol.Message) (string, error) {
	if res.Client == nil {
		return "", fmt.Errorf("workspace %s configured for client runtime but no client pipeline wired", entry.WorkspacePath)
	}
	if item, ok := o.steer.DrainFollowUp(msg.ChatID); ok {
		msg.Text = item.Message + "\n" + msg.Text
	}
	return res.Client.Send(ctx, entry.WorkspacePath, entry.ChatID, msg.Text)
}

func (o *Orchestrator) runAgent(ctx context.Context, entry route.Entry, res *WorkspaceResources, msg protocol.Message) (string, error) {
	cfg := res.Config.Snapshot()

	soulDoc, err := soul.Resolve(entry.WorkspacePath, o.globalSoulDir)
	if err != nil {
		slog.Warn("soul resolution failed, continuing without persona", "error", err)
	}

	var memHits []contextbuild.MemoryHit
	memoryInjected := false
	if cfg.Memory.Inject.Enabled && res.Memory != nil {
		hits := res.Memory.Search(ctx, msg.Text, cfg.Memory.Inject.TopK)
		for _, h := range hits {
			memHits = append(memHits, contextbuild.MemoryHit{Text: h.Text, Score: h.Score})
		}
		memoryInjected = len(memHits) > 0
	}

	if item, ok := o.steer.DrainFollowUp(msg.ChatID); ok {
		msg.Text = item.Message + "\n" + msg.Text
	}

	var window []contextbuild.WindowTurn
	var summary string
	if res.Window != nil {
		window = res.Window.Turns(msg.ChatID)
		summary = res.Window.Summary(msg.ChatID)
	}

	assembled := contextbuild.Assemble(contextbuild.Input{
		Soul:            soulDoc,
		Summary:         summary,
		MemoryInjected:  memoryInjected,
		MemoryHits:      memHits,
		Window:          window,
		CurrentUserText: msg.Text,
		PiEnabled:       cfg.PiEnabled,
		Budgets:         contextbuild.DefaultBudgets(),
	})

	req := agent.Request{
		ChatID:        msg.ChatID,
		WorkspacePath: entry.WorkspacePath,
		Messages:      assembled.Messages,
		Gate: tools.GateConfig{
			Tooling: cfg.Tooling,
			Policy:  cfg.Policy,
		},
	}
	if cfg.PiEnabled {
		req.Tools = tools.Definitions()
	}
	result, err := res.Loop.Run(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent turn: %w", err)
	}
	if result.Failed() {
		slog.Warn("agent turn failed", "chatId", msg.ChatID, "code", result.FailedCode, "detail", result.FailedDetail)
		return fmt.Sprintf("(turn failed: %s)", result.FailedCode), nil
	}

	if res.Memory != nil {
		if _, err := res.Memory.Write(ctx, "User: "+msg.Text+"\nAssistant: "+result.Content); err != nil {
			slog.Warn("memory write failed", "error", err)
		}
	}
	if res.Window != nil {
		res.Window.Append(msg.ChatID, msg.Text, result.Content)
	}

	return result.Content, nil
}

func (o *Orchestrator) recordTurn(res *WorkspaceResources, entry route.Entry, userText, assistantText string) {
	if res.Journal == nil {
		return
	}
	meta := journal.Meta{
		ChatID:        entry.ChatID,
		WorkspacePath: entry.WorkspacePath,
		RuntimeKind:   string(entry.RuntimeKind),
	}
	threadID, err := res.Journal.EnsureThread(entry.ChatID, entry.WorkspacePath, userText, meta)
	if err != nil {
		slog.Warn("journal thread resolution failed", "chatId", entry.ChatID, "error", err)
		return
	}
	o.turnCounter[entry.ChatID]++
	if err := res.Journal.AppendTurn(threadID, userText, assistantText, time.Now(), o.turnCounter[entry.ChatID]); err != nil {
		slog.Warn("journal append failed", "chatId", entry.ChatID, "error", err)
	}
}
