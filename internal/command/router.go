// Package command implements the Command Router, per spec §4.5: three
// distinct pure functions (identify, parse, dispatch) over slash-prefixed
// text, thin-dispatching to per-domain handlers that own no business logic
// of their own beyond reading/writing the stores they're handed. Grounded
// on the teacher's thin-cobra-command idiom (cmd/*.go's one-file-per-verb
// layout), collapsed here into one in-process router since msgcode's
// commands arrive over chat text, not a CLI argv.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/route"
	"github.com/42atom/msgcode/internal/state"
	"github.com/42atom/msgcode/pkg/soul"
)

// Result is what every domain handler returns; the router never executes
// business logic itself, only plumbs this back to the caller.
type Result struct {
	Success bool
	Message string
}

func ok(msg string) Result  { return Result{Success: true, Message: msg} }
func fail(msg string) Result { return Result{Success: false, Message: msg} }

// Identify reports whether text is a recognized slash command and, if so,
// its canonical verb (the first whitespace-delimited token, without the
// leading "/").
func Identify(text string) (verb string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/")), true
}

// Parse splits a recognized command's remaining text into argument tokens.
func Parse(text string) []string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// ConfigFor resolves the WorkspaceConfig backing a workspace path, for
// commands that mutate runtime config (model/policy/pi/tooling).
type ConfigFor func(workspacePath string) (*config.WorkspaceConfig, error)

// SoulDirs resolves the global souls directory used by soul commands.
type SoulDirs func() string

// Router dispatches recognized commands to their domain handlers.
type Router struct {
	routes       *route.Store
	states       *state.Store
	steer        *intervention.Queue
	configFor    ConfigFor
	soulDir      SoulDirs
	owner        *OwnerRegistry
	schedule     ScheduleAdmin
	toolStats    ToolStatsReader
	session      SessionAdmin
	desktop      DesktopAdmin
	conversation ConversationAdmin
}

// ScheduleAdmin is the narrow surface the Scheduler exposes to `/schedule`
// and `/reload` (internal/scheduler.Scheduler satisfies it).
type ScheduleAdmin interface {
	List() []string
	Validate() error
	SetEnabled(id string, enabled bool) error
	Reload() error
}

// ToolStatsReader backs `/toolstats` (internal/tools.Bus could satisfy a
// richer version of this later; a nil reader degrades gracefully).
type ToolStatsReader interface {
	Stats() map[string]int
}

// SessionAdmin backs the session-domain commands (`/start, /stop, /status,
// /snapshot, /esc`); internal/client.Pipeline satisfies it. `/clear` is handled
// separately by ConversationAdmin, since it resets conversation state
// rather than the hosted session process.
type SessionAdmin interface {
	Status(workspacePath string) string
	Stop(workspacePath string) error
	Snapshot(workspacePath string) (string, error)
	Escape(workspacePath string) error
}

// DesktopAdmin backs `/desktop ping|doctor|observe|confirm|rpc|shortcut`.
type DesktopAdmin interface {
	Ping(ctx context.Context, workspacePath string) (string, error)
	Doctor(ctx context.Context, workspacePath string) (string, error)
	Observe(ctx context.Context, workspacePath string) (string, error)
	IssueConfirm(ctx context.Context, workspacePath, method string) (string, error)
}

// ConversationAdmin backs `/clear`'s rotation of the Thread Journal and the
// Conversation Window (cmd's workspaceCache satisfies it, since both the
// journal and the window are cached per-workspace resources).
type ConversationAdmin interface {
	ResetConversation(workspacePath, chatID string) error
}

// Config parameterizes Router construction. Admin interfaces may be nil
// until their owning component exists; the router then replies that the
// command is not yet available rather than fabricating a result.
type Config struct {
	Routes       *route.Store
	States       *state.Store
	Steer        *intervention.Queue
	ConfigFor    ConfigFor
	SoulDir      SoulDirs
	Owner        *OwnerRegistry
	Schedule     ScheduleAdmin
	ToolStats    ToolStatsReader
	Session      SessionAdmin
	Desktop      DesktopAdmin
	Conversation ConversationAdmin
}

func New(cfg Config) *Router {
	return &Router{
		routes:       cfg.Routes,
		states:       cfg.States,
		steer:        cfg.Steer,
		configFor:    cfg.ConfigFor,
		soulDir:      cfg.SoulDir,
		owner:        cfg.Owner,
		schedule:     cfg.Schedule,
		toolStats:    cfg.ToolStats,
		session:      cfg.Session,
		desktop:      cfg.Desktop,
		conversation: cfg.Conversation,
	}
}

// Handle implements internal/orchestrator.CommandRouter.
func (r *Router) Handle(ctx context.Context, chatID, workspacePath, text string) (string, bool, error) {
	verb, recognized := Identify(text)
	if !recognized {
		return "", false, nil
	}
	args := Parse(text)

	res := r.dispatch(ctx, chatID, workspacePath, verb, args)
	return res.Message, true, nil
}

func (r *Router) dispatch(ctx context.Context, chatID, workspacePath, verb string, args []string) Result {
	switch verb {
	// binding
	case "bind":
		return r.cmdBind(chatID, args)
	case "where":
		return r.cmdWhere(chatID)
	case "unbind":
		return r.cmdUnbind(chatID)

	// info
	case "help":
		return ok(helpText)
	case "info":
		return r.cmdInfo(chatID, workspacePath)
	case "chatlist":
		return r.cmdChatlist()

	// model
	case "model":
		return r.cmdModel(workspacePath, args)
	case "policy":
		return r.cmdPolicy(workspacePath, args)
	case "pi":
		return r.cmdPi(workspacePath, args)

	// owner
	case "owner":
		return r.cmdOwner(args)
	case "owner-only":
		return r.cmdOwnerOnly(args)

	// memory & cursor
	case "mem":
		return fail("memory search from the command surface is not wired; the agent's memory gate injects automatically during turns")
	case "cursor":
		return r.cmdCursor(chatID)
	case "reset-cursor":
		return r.cmdResetCursor(chatID)

	// soul
	case "soul":
		return r.cmdSoul(workspacePath, args)

	// schedule
	case "schedule":
		return r.cmdSchedule(args)
	case "reload":
		return r.cmdReload()

	// tooling
	case "toolstats":
		return r.cmdToolStats()
	case "tool":
		return r.cmdTool(workspacePath, args)

	// desktop
	case "desktop":
		return r.cmdDesktop(ctx, workspacePath, args)

	// intervention
	case "steer":
		return r.cmdSteer(chatID, args)
	case "next":
		return r.cmdNext(chatID, args)

	// session
	case "clear":
		return r.cmdClear(workspacePath, chatID)
	case "start", "stop", "status", "snapshot", "esc":
		return r.cmdSession(workspacePath, verb)

	default:
		return fail(fmt.Sprintf("unrecognized command /%s", verb))
	}
}

const helpText = `Commands: /bind /where /unbind  /help /info /chatlist  /model /policy /pi  /owner /owner-only  /mem /cursor /reset-cursor  /soul  /schedule /reload  /toolstats /tool  /desktop  /steer /next  /start /stop /status /clear /snapshot /esc`

func (r *Router) cmdBind(chatID string, args []string) Result {
	workspacePath := route.SuggestWorkspace(chatID)
	label := ""
	if len(args) > 0 {
		workspacePath = args[0]
	}
	if len(args) > 1 {
		label = strings.Join(args[1:], " ")
	}
	entry, err := r.routes.Put(route.Entry{
		ChatID:        chatID,
		WorkspacePath: workspacePath,
		Label:         label,
		RuntimeKind:   config.RuntimeAgent,
		Status:        route.StatusActive,
	})
	if err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("bound to %s", entry.WorkspacePath))
}

func (r *Router) cmdWhere(chatID string) Result {
	entry, found := r.routes.Get(chatID)
	if !found {
		return fail("no binding for this chat")
	}
	return ok(fmt.Sprintf("%s (%s, %s)", entry.WorkspacePath, entry.RuntimeKind, entry.Status))
}

func (r *Router) cmdUnbind(chatID string) Result {
	entry, found := r.routes.Get(chatID)
	if !found {
		return fail("no binding for this chat")
	}
	entry.Status = route.StatusArchived
	if _, err := r.routes.Put(entry); err != nil {
		return fail(err.Error())
	}
	return ok("unbound")
}

func (r *Router) cmdInfo(chatID, workspacePath string) Result {
	entry, found := r.routes.Get(chatID)
	if !found {
		return ok("no binding for this chat")
	}
	return ok(fmt.Sprintf("chatId=%s workspace=%s runtime=%s status=%s", chatID, entry.WorkspacePath, entry.RuntimeKind, entry.Status))
}

func (r *Router) cmdChatlist() Result {
	entries := r.routes.List()
	if len(entries) == 0 {
		return ok("no bound chats")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s -> %s (%s)\n", e.ChatID, e.WorkspacePath, e.Status)
	}
	return ok(strings.TrimRight(b.String(), "\n"))
}

func (r *Router) cmdModel(workspacePath string, args []string) Result {
	cfg, err := r.configFor(workspacePath)
	if err != nil {
		return fail(err.Error())
	}
	if len(args) == 0 {
		return ok("model: " + cfg.Agent.Provider)
	}
	cfg.SetAgentProvider(args[0])
	return ok("model set to " + args[0])
}

func (r *Router) cmdPolicy(workspacePath string, args []string) Result {
	cfg, err := r.configFor(workspacePath)
	if err != nil {
		return fail(err.Error())
	}
	if len(args) == 0 {
		return ok("policy: " + string(cfg.Policy.Mode))
	}
	mode := config.PolicyMode(args[0])
	if mode != config.PolicyLocalOnly && mode != config.PolicyEgressAllowed {
		return fail("policy must be local-only or egress-allowed")
	}
	cfg.SetPolicyMode(mode)
	return ok("policy set to " + string(mode))
}

func (r *Router) cmdPi(workspacePath string, args []string) Result {
	cfg, err := r.configFor(workspacePath)
	if err != nil {
		return fail(err.Error())
	}
	if len(args) == 0 {
		return ok(fmt.Sprintf("pi.enabled: %v", cfg.PiEnabled))
	}
	enabled := args[0] == "on" || args[0] == "true"
	cfg.SetPiEnabled(enabled)
	return ok(fmt.Sprintf("pi.enabled set to %v", enabled))
}

func (r *Router) cmdOwner(args []string) Result {
	if r.owner == nil {
		return fail("owner registry not configured")
	}
	if len(args) == 0 {
		return ok("owner: " + r.owner.Identity())
	}
	r.owner.SetIdentity(args[0])
	return ok("owner set to " + args[0])
}

func (r *Router) cmdOwnerOnly(args []string) Result {
	if r.owner == nil {
		return fail("owner registry not configured")
	}
	if len(args) == 0 {
		return ok(fmt.Sprintf("owner-only: %v", r.owner.OwnerOnly()))
	}
	v := args[0] == "on" || args[0] == "true" || args[0] == "1"
	r.owner.SetOwnerOnly(v)
	return ok(fmt.Sprintf("owner-only set to %v", v))
}

func (r *Router) cmdCursor(chatID string) Result {
	cs := r.states.Get(chatID)
	return ok(fmt.Sprintf("lastSeenRowid=%d lastMessageId=%s messageCount=%d", cs.LastSeenRowID, cs.LastMessageID, cs.MessageCount))
}

func (r *Router) cmdResetCursor(chatID string) Result {
	if err := r.states.Reset(chatID); err != nil {
		return fail(err.Error())
	}
	return ok("cursor reset")
}

func (r *Router) cmdSoul(workspacePath string, args []string) Result {
	dir := r.soulDir()
	if len(args) == 0 {
		active, _ := soul.ActiveSoul(dir)
		if active == "" {
			return ok("no global soul selected; workspace SOUL.md (if present) takes precedence")
		}
		return ok("active global soul: " + active)
	}
	switch args[0] {
	case "list":
		names, err := soul.ListSouls(dir)
		if err != nil {
			return fail(err.Error())
		}
		if len(names) == 0 {
			return ok("no souls available")
		}
		return ok(strings.Join(names, ", "))
	case "clear":
		if err := soul.SetActiveSoul(dir, ""); err != nil {
			return fail(err.Error())
		}
		return ok("active soul cleared")
	default:
		if err := soul.SetActiveSoul(dir, args[0]); err != nil {
			return fail(err.Error())
		}
		return ok("active soul set to " + args[0])
	}
}

func (r *Router) cmdSchedule(args []string) Result {
	if r.schedule == nil {
		return fail("scheduler not configured")
	}
	if len(args) == 0 {
		return fail("usage: /schedule list|validate|enable|disable <id>")
	}
	switch args[0] {
	case "list":
		jobs := r.schedule.List()
		if len(jobs) == 0 {
			return ok("no scheduled jobs")
		}
		return ok(strings.Join(jobs, ", "))
	case "validate":
		if err := r.schedule.Validate(); err != nil {
			return fail(err.Error())
		}
		return ok("all jobs valid")
	case "enable", "disable":
		if len(args) < 2 {
			return fail("usage: /schedule enable|disable <id>")
		}
		if err := r.schedule.SetEnabled(args[1], args[0] == "enable"); err != nil {
			return fail(err.Error())
		}
		return ok(fmt.Sprintf("job %s %sd", args[1], args[0]))
	default:
		return fail("usage: /schedule list|validate|enable|disable <id>")
	}
}

func (r *Router) cmdReload() Result {
	if r.schedule == nil {
		return fail("scheduler not configured")
	}
	if err := r.schedule.Reload(); err != nil {
		return fail(err.Error())
	}
	return ok("jobs reloaded")
}

func (r *Router) cmdToolStats() Result {
	if r.toolStats == nil {
		return fail("tool stats not configured")
	}
	stats := r.toolStats.Stats()
	if len(stats) == 0 {
		return ok("no tool calls recorded yet")
	}
	var b strings.Builder
	for name, count := range stats {
		fmt.Fprintf(&b, "%s=%d ", name, count)
	}
	return ok(strings.TrimSpace(b.String()))
}

func (r *Router) cmdTool(workspacePath string, args []string) Result {
	cfg, err := r.configFor(workspacePath)
	if err != nil {
		return fail(err.Error())
	}
	if len(args) < 2 {
		return fail("usage: /tool allow|deny <name>")
	}
	switch args[0] {
	case "allow":
		cfg.AllowTool(args[1])
		return ok(args[1] + " added to allow-list")
	case "deny":
		cfg.DenyTool(args[1])
		return ok(args[1] + " removed from allow-list")
	default:
		return fail("usage: /tool allow|deny <name>")
	}
}

func (r *Router) cmdDesktop(ctx context.Context, workspacePath string, args []string) Result {
	if r.desktop == nil {
		return fail("desktop host not configured for this workspace")
	}
	if len(args) == 0 {
		return fail("usage: /desktop ping|doctor|observe|confirm|rpc|shortcut")
	}
	var (
		msg string
		err error
	)
	switch args[0] {
	case "ping":
		msg, err = r.desktop.Ping(ctx, workspacePath)
	case "doctor":
		msg, err = r.desktop.Doctor(ctx, workspacePath)
	case "observe":
		msg, err = r.desktop.Observe(ctx, workspacePath)
	case "confirm":
		if len(args) < 2 {
			return fail("usage: /desktop confirm <method>")
		}
		msg, err = r.desktop.IssueConfirm(ctx, workspacePath, args[1])
	case "rpc", "shortcut":
		return fail("/desktop " + args[0] + " is issued through the desktop tool during a turn, not the command surface")
	default:
		return fail("usage: /desktop ping|doctor|observe|confirm|rpc|shortcut")
	}
	if err != nil {
		return fail(err.Error())
	}
	return ok(msg)
}

func (r *Router) cmdSteer(chatID string, args []string) Result {
	if len(args) == 0 {
		return fail("usage: /steer <message>")
	}
	r.steer.EnqueueSteer(chatID, strings.Join(args, " "))
	return ok("steer queued")
}

func (r *Router) cmdNext(chatID string, args []string) Result {
	if len(args) == 0 {
		return fail("usage: /next <message>")
	}
	r.steer.EnqueueFollowUp(chatID, strings.Join(args, " "))
	return ok("follow-up queued")
}

// cmdClear implements `/clear` (spec invariant 7: "clears window+summary;
// memory rows remain queryable"): it rotates the Thread Journal's active
// thread and drops the Conversation Window's short-term turns and rolling
// summary for this chat. Long-term memory is untouched — ConversationAdmin
// never reaches into the memory store.
func (r *Router) cmdClear(workspacePath, chatID string) Result {
	if r.conversation == nil {
		return fail("conversation admin not configured for this workspace")
	}
	if err := r.conversation.ResetConversation(workspacePath, chatID); err != nil {
		return fail(err.Error())
	}
	return ok("conversation cleared: window and summary reset, memory retained")
}

func (r *Router) cmdSession(workspacePath, verb string) Result {
	if r.session == nil {
		return fail("session admin not configured for this workspace")
	}
	switch verb {
	case "status":
		return ok(r.session.Status(workspacePath))
	case "stop":
		if err := r.session.Stop(workspacePath); err != nil {
			return fail(err.Error())
		}
		return ok("session stopped")
	case "snapshot":
		path, err := r.session.Snapshot(workspacePath)
		if err != nil {
			return fail(err.Error())
		}
		return ok("snapshot written to " + path)
	case "esc":
		if err := r.session.Escape(workspacePath); err != nil {
			return fail(err.Error())
		}
		return ok("escape sent")
	case "start":
		return ok("session will start on the next inbound message")
	default:
		return fail("unrecognized session command")
	}
}
