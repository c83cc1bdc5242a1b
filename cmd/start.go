package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/42atom/msgcode/internal/agent"
	"github.com/42atom/msgcode/internal/client"
	"github.com/42atom/msgcode/internal/command"
	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/internal/contextbuild"
	"github.com/42atom/msgcode/internal/dedup"
	"github.com/42atom/msgcode/internal/desktop"
	"github.com/42atom/msgcode/internal/ingress"
	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/journal"
	"github.com/42atom/msgcode/internal/memory"
	"github.com/42atom/msgcode/internal/observability"
	"github.com/42atom/msgcode/internal/orchestrator"
	"github.com/42atom/msgcode/internal/providers"
	"github.com/42atom/msgcode/internal/route"
	"github.com/42atom/msgcode/internal/scheduler"
	"github.com/42atom/msgcode/internal/sessionpool"
	"github.com/42atom/msgcode/internal/state"
	"github.com/42atom/msgcode/internal/tools"
	"github.com/42atom/msgcode/internal/tracing"
	"github.com/42atom/msgcode/internal/transport"
	"github.com/42atom/msgcode/pkg/protocol"
	"golang.org/x/time/rate"
)

var debugFlag bool

func startCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Run the gateway loop in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
	c.Flags().BoolVar(&debugFlag, "debug", false, "enable debug logging regardless of LOG_LEVEL")
	return c
}

// runStart assembles every component into one running process: config,
// logging, the Route/State stores, the Dedup gate, the Transport Adapter,
// the Session Pool + Desktop client + Client Pipeline, the Scheduler,
// tracing, the Command Router, and the Ingress Loop that ties them
// together — the same top-level assembly shape as the teacher's
// runGateway(), generalized from a multi-channel bus to msgcode's single
// transport binary and per-workspace pipeline split.
func runStart() error {
	gcfg, err := config.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("load environment config: %w", err)
	}
	if gcfg.Owner == "" {
		return fmt.Errorf("MSGCODE_OWNER is required; see `msgcode doctor`")
	}

	logLevel := gcfg.LogLevel
	if debugFlag {
		logLevel = "debug"
	}
	rot, err := observability.Setup(observability.Options{
		LogPath: gcfg.LogPath(),
		Level:   logLevel,
		Console: gcfg.LogConsole || verbose,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer rot.Close()

	fcfg, err := config.LoadFileConfig(gcfg.FileConfigPath())
	if err != nil {
		return fmt.Errorf("load global config: %w", err)
	}

	workspaceRoot := config.ExpandHome(gcfg.WorkspaceRoot)
	if workspaceRoot == "" {
		return fmt.Errorf("WORKSPACE_ROOT is required; see `msgcode doctor`")
	}
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}

	routes, err := route.Open(gcfg.RoutesPath(), workspaceRoot)
	if err != nil {
		return fmt.Errorf("open route store: %w", err)
	}
	states, err := state.Open(gcfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceHook, traceShutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     fcfg.Telemetry.Enabled,
		Protocol:    fcfg.Telemetry.Protocol,
		Endpoint:    fcfg.Telemetry.Endpoint,
		ServiceName: fcfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer traceShutdown(context.Background())

	sessions := sessionpool.New(gcfg.DesktopCtlPath, 5*time.Minute)
	defer sessions.Close()

	desktopClient := desktop.New(sessions)

	clientPipeline := client.New("tmux", fcfg.TmuxClient, 30*time.Second)

	gate := dedup.New(rate.Limit(1), 4)
	xport := transport.New(gcfg.TransportBinPath, nil, 15*time.Second)
	defer xport.Close()

	steer := intervention.New()

	cache := &workspaceCache{
		resources: map[string]*orchestrator.WorkspaceResources{},
		sessions:  sessions,
		steer:     steer,
		fcfg:      fcfg,
		client:    clientPipeline,
		traceHook: traceHook,
	}
	defer cache.closeAll()

	owner := command.NewOwnerRegistry(gcfg.Owner, gcfg.OwnerOnlyInGroup)

	var orch *orchestrator.Orchestrator
	sched := scheduler.New(nil, func(ctx context.Context, chatID, message, source string) error {
		return orch.Dispatch(ctx, protocol.Message{ChatID: chatID, Text: message})
	}, nil)
	go sched.Run(ctx)
	defer sched.Stop()

	router := command.New(command.Config{
		Routes:       routes,
		States:       states,
		Steer:        steer,
		ConfigFor:    cache.configFor,
		SoulDir:      func() string { return gcfg.SoulsDir() },
		Owner:        owner,
		Schedule:     sched,
		ToolStats:    cache,
		Session:      clientPipeline,
		Desktop:      desktopClient,
		Conversation: cache,
	})

	orch = orchestrator.New(orchestrator.Config{
		Routes:        routes,
		Steer:         steer,
		ResourcesFor:  cache.resourcesFor,
		Transport:     xport,
		Commands:      router,
		GlobalSoulDir: gcfg.SoulsDir(),
	})

	loop := ingress.New(xport, states, gate, orch.Dispatch, ingress.Config{
		Tick:          2 * time.Second,
		Parallelism:   8,
		SoftQueueCap:  32,
		IsWhitelisted: owner.IsWhitelisted,
	})

	controlLn, err := serveControlSocket(ctx, gcfg.ControlSocketPath(), cancel)
	if err != nil {
		slog.Warn("control socket unavailable", "error", err)
	} else {
		defer controlLn.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received, draining")
		cancel()
	}()

	slog.Info("msgcode starting", "version", Version, "protocol", protocol.ProtocolVersion, "workspaceRoot", workspaceRoot)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("ingress loop exited", "error", err)
		return err
	}
	return nil
}

// serveControlSocket listens on the Unix domain socket stop/allstop talk to,
// speaking the same protocol.LineCodec envelope used everywhere else in the
// system (SPEC_FULL.md §6), the fourth reuse of that abstraction.
func serveControlSocket(ctx context.Context, sockPath string, cancel context.CancelFunc) (net.Listener, error) {
	os.Remove(sockPath)
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o755); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(sockPath)
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleControlConn(conn, cancel)
		}
	}()
	return ln, nil
}

func handleControlConn(conn net.Conn, cancel context.CancelFunc) {
	defer conn.Close()
	codec := protocol.NewLineCodec(conn)
	codec.OnOrphan = func(env protocol.Envelope) {
		switch env.Method {
		case "stop", "allstop":
			codec.Reply(env.ID, map[string]string{"status": "stopping"}, nil)
			cancel()
		default:
			codec.Reply(env.ID, nil, &protocol.Error{Code: "UNKNOWN_METHOD", Message: env.Method})
		}
	}
	codec.Run(conn)
}

// workspaceCache lazily constructs and caches the per-workspace resources
// the Orchestrator needs, and implements command.ToolStatsReader by summing
// every cached workspace's tool-call counters.
type workspaceCache struct {
	mu        sync.Mutex
	resources map[string]*orchestrator.WorkspaceResources
	watchers  map[string]*fsnotify.Watcher
	sessions  *sessionpool.Pool
	steer     *intervention.Queue
	fcfg      *config.FileConfig
	client    *client.Pipeline
	traceHook tracing.Hook
}

func (c *workspaceCache) configFor(workspacePath string) (*config.WorkspaceConfig, error) {
	res, err := c.resourcesFor(workspacePath)
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// ResetConversation implements command.ConversationAdmin, backing `/clear`:
// it rotates the Thread Journal's active thread and drops the Conversation
// Window's short-term turns and rolling summary for chatID. Long-term
// memory is untouched (spec invariant 7).
func (c *workspaceCache) ResetConversation(workspacePath, chatID string) error {
	res, err := c.resourcesFor(workspacePath)
	if err != nil {
		return err
	}
	if res.Journal != nil {
		res.Journal.ResetThread(chatID)
	}
	if res.Window != nil {
		res.Window.Reset(chatID)
	}
	return nil
}

func (c *workspaceCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]int{}
	for _, res := range c.resources {
		if res.Bus == nil {
			continue
		}
		for k, v := range res.Bus.Stats() {
			out[k] += v
		}
	}
	return out
}

func (c *workspaceCache) resourcesFor(workspacePath string) (*orchestrator.WorkspaceResources, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.resources[workspacePath]; ok {
		return res, nil
	}

	cfgPath := filepath.Join(workspacePath, ".msgcode", "config.json")
	wcfg, err := config.LoadWorkspaceConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load workspace config %s: %w", workspacePath, err)
	}

	mem, err := memory.Open(workspacePath, nil, "", wcfg.FuseWeightsOrDefault())
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	jrnl, err := journal.Open(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	window := contextbuild.NewWindow(0)

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(workspacePath))
	registry.Register(tools.NewWriteFileTool(workspacePath))
	registry.Register(tools.NewEditFileTool(workspacePath))
	registry.Register(tools.NewBashTool(workspacePath))
	registry.Register(tools.NewDesktopTool(workspacePath, c.sessions))

	confirm, err := c.sessions.ConfirmRegistryFor(context.Background(), workspacePath, "desktop")
	if err != nil {
		return nil, fmt.Errorf("confirm registry: %w", err)
	}
	bus := tools.NewBus(registry, confirm)

	provider := c.buildProvider(wcfg.Agent.Provider)
	loop := agent.New(agent.Config{
		Provider: provider,
		Bus:      bus,
		Steer:    c.steer,
		Trace:    agent.TraceHook(c.traceHook),
	})

	res := &orchestrator.WorkspaceResources{
		Config:  wcfg,
		Memory:  mem,
		Journal: jrnl,
		Window:  window,
		Bus:     bus,
		Loop:    loop,
		Client:  c.client,
	}
	c.resources[workspacePath] = res
	c.watch(workspacePath, cfgPath, wcfg)
	return res, nil
}

// buildProvider resolves the OpenAI-compatible provider adapter named by a
// workspace's `agent.provider` key against the global config's credential
// table, per spec §3's `agent.provider` key and SPEC_FULL.md §3's
// MSGCODE_OWNER-independent provider credentials.
func (c *workspaceCache) buildProvider(name string) providers.Provider {
	if name == "" {
		name = c.fcfg.DefaultProvider
	}
	creds := c.fcfg.Providers[name]
	return providers.NewOpenAIProvider(name, creds.APIKey, creds.APIBase, creds.Model)
}

// watch installs an fsnotify watch on a workspace's config.json, debounced
// reload via config.ReplaceFrom, matching SPEC_FULL.md §3's "teacher's
// config.ReplaceFrom pattern" hot-reload note.
func (c *workspaceCache) watch(workspacePath, cfgPath string, cfg *config.WorkspaceConfig) {
	if c.watchers == nil {
		c.watchers = map[string]*fsnotify.Watcher{}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher unavailable", "workspace", workspacePath, "error", err)
		return
	}
	if err := w.Add(filepath.Dir(cfgPath)); err != nil {
		slog.Warn("config watcher add failed", "workspace", workspacePath, "error", err)
		w.Close()
		return
	}
	c.watchers[workspacePath] = w

	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != "config.json" {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					fresh, err := config.LoadWorkspaceConfig(cfgPath)
					if err != nil {
						slog.Warn("config reload failed", "workspace", workspacePath, "error", err)
						return
					}
					cfg.ReplaceFrom(fresh)
					slog.Info("workspace config reloaded", "workspace", workspacePath)
				})
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "workspace", workspacePath, "error", werr)
			}
		}
	}()
}

func (c *workspaceCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, res := range c.resources {
		if res.Memory != nil {
			res.Memory.Close()
		}
	}
	for _, w := range c.watchers {
		w.Close()
	}
}
