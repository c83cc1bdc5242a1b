// Package config loads and hot-reloads the global and per-workspace msgcode
// configuration, per spec §3 and §6.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/titanous/json5"
)

// PolicyMode is the workspace's egress policy class.
type PolicyMode string

const (
	PolicyLocalOnly     PolicyMode = "local-only"
	PolicyEgressAllowed PolicyMode = "egress-allowed"
)

// RuntimeKind selects which pipeline owns a chat: the tool-loop agent, or a
// faithful pass-through to an external interactive CLI.
type RuntimeKind string

const (
	RuntimeAgent  RuntimeKind = "agent"
	RuntimeClient RuntimeKind = "client"
)

// ToolingMode controls whether the agent may call tools without the user
// having opted in turn-by-turn.
type ToolingMode string

const (
	ToolingExplicit   ToolingMode = "explicit"
	ToolingAutonomous ToolingMode = "autonomous"
)

// MemoryInjectConfig controls §4.8's injection gate.
type MemoryInjectConfig struct {
	Enabled  bool `json:"enabled"`
	TopK     int  `json:"topK"`
	MaxChars int  `json:"maxChars"`
}

// RuntimeConfig is the `runtime.*` key group.
type RuntimeConfig struct {
	Kind RuntimeKind `json:"kind"`
}

// AgentConfig is the `agent.*` key group.
type AgentConfig struct {
	Provider string `json:"provider"`
}

// TmuxConfig is the `tmux.*` key group (§4.11 Client Pipeline).
type TmuxConfig struct {
	Client string `json:"client"`
}

// PolicyConfig is the `policy.*` key group.
type PolicyConfig struct {
	Mode PolicyMode `json:"mode"`
}

// ToolingConfig is the `tooling.*` key group.
type ToolingConfig struct {
	Mode  ToolingMode `json:"mode"`
	Allow []string    `json:"allow,omitempty"`
}

// MemoryConfig is the `memory.*` key group.
type MemoryConfig struct {
	Inject     MemoryInjectConfig `json:"inject"`
	FuseWeights *FuseWeights      `json:"fuseWeights,omitempty"`
}

// FuseWeights controls hybrid-recall score fusion (spec §9 Open Question 3).
type FuseWeights struct {
	Vector float64 `json:"vector"`
	Text   float64 `json:"text"`
}

// DefaultFuseWeights is the spec-mandated default (0.7 vector / 0.3 text).
func DefaultFuseWeights() FuseWeights {
	return FuseWeights{Vector: 0.7, Text: 0.3}
}

// WorkspaceConfig is the full recognized key set of `<ws>/.msgcode/config.json`,
// per spec §3. Every field here corresponds to an enumerated key; unknown
// keys are ignored on load and not retained.
type WorkspaceConfig struct {
	Runtime RuntimeConfig `json:"runtime"`
	Agent   AgentConfig   `json:"agent"`
	Tmux    TmuxConfig    `json:"tmux"`
	Policy  PolicyConfig  `json:"policy"`
	// PiEnabled is `pi.enabled` — the tool-loop on/off switch.
	PiEnabled bool          `json:"pi.enabled"`
	Tooling   ToolingConfig `json:"tooling"`
	Memory    MemoryConfig  `json:"memory"`

	path string
	mu   sync.RWMutex
}

// legacyRunnerWarned ensures the `runner.default` deprecation warning fires
// once per process, not once per read (DESIGN.md Open Question 1).
var legacyRunnerWarned sync.Once

// rawWorkspaceDoc is used only to detect and translate the legacy
// `runner.default` key before it is discarded.
type rawWorkspaceDoc struct {
	Runner *struct {
		Default string `json:"default"`
	} `json:"runner,omitempty"`
}

// LoadWorkspaceConfig reads and parses `<ws>/.msgcode/config.json`, trying
// JSON5 first (so operators may hand-edit with comments/trailing commas)
// and falling back to strict encoding/json. Defaults are applied for any
// group the file omits.
func LoadWorkspaceConfig(path string) (*WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultWorkspaceConfig()
			cfg.path = path
			return cfg, nil
		}
		return nil, fmt.Errorf("read workspace config: %w", err)
	}

	cfg := defaultWorkspaceConfig()
	if jerr := json5.Unmarshal(data, cfg); jerr != nil {
		if serr := json.Unmarshal(data, cfg); serr != nil {
			return nil, fmt.Errorf("parse workspace config (json5: %v, json: %w)", jerr, serr)
		}
	}

	var raw rawWorkspaceDoc
	_ = json5.Unmarshal(data, &raw)
	if raw.Runner != nil && raw.Runner.Default != "" {
		applyLegacyRunnerDefault(cfg, raw.Runner.Default)
	}

	cfg.path = path
	return cfg, nil
}

// applyLegacyRunnerDefault maps the deprecated `runner.default=llama|claude`
// key to `lmstudio` and warns once per process (log-only, not user-visible —
// DESIGN.md resolution of spec §9's open "warn" semantics question).
func applyLegacyRunnerDefault(cfg *WorkspaceConfig, legacy string) {
	if cfg.Agent.Provider != "" {
		return
	}
	cfg.Agent.Provider = "lmstudio"
	legacyRunnerWarned.Do(func() {
		slog.Warn("config key runner.default is deprecated; mapped to agent.provider=lmstudio",
			"runner.default", legacy)
	})
}

func defaultWorkspaceConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		Runtime: RuntimeConfig{Kind: RuntimeAgent},
		Policy:  PolicyConfig{Mode: PolicyLocalOnly},
		Tooling: ToolingConfig{Mode: ToolingExplicit},
		Memory: MemoryConfig{
			Inject: MemoryInjectConfig{Enabled: true, TopK: 6, MaxChars: 2000},
		},
	}
}

// ReplaceFrom atomically swaps this config's fields with a freshly loaded
// one, for fsnotify-driven hot reload. Readers holding a prior snapshot are
// unaffected; new reads observe the replacement immediately.
func (c *WorkspaceConfig) ReplaceFrom(other *WorkspaceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.Runtime = other.Runtime
	c.Agent = other.Agent
	c.Tmux = other.Tmux
	c.Policy = other.Policy
	c.PiEnabled = other.PiEnabled
	c.Tooling = other.Tooling
	c.Memory = other.Memory
}

// Snapshot returns a value copy safe to read without holding a lock.
func (c *WorkspaceConfig) Snapshot() WorkspaceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

// FuseWeightsOrDefault returns the workspace's configured fuse weights, or
// the spec-mandated 0.7/0.3 default if unset.
func (c *WorkspaceConfig) FuseWeightsOrDefault() FuseWeights {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Memory.FuseWeights != nil {
		return *c.Memory.FuseWeights
	}
	return DefaultFuseWeights()
}

// SetPolicyMode updates the workspace's egress policy class at runtime
// (`/policy` command), effective until the next file-backed reload.
func (c *WorkspaceConfig) SetPolicyMode(mode PolicyMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Policy.Mode = mode
}

// SetPiEnabled toggles the tool-loop on/off switch at runtime (`/pi` command).
func (c *WorkspaceConfig) SetPiEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PiEnabled = enabled
}

// SetAgentProvider updates the active provider name at runtime (`/model` command).
func (c *WorkspaceConfig) SetAgentProvider(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent.Provider = provider
}

// AllowTool adds name to the tooling allow-list if not already present
// (`/tool allow <name>`).
func (c *WorkspaceConfig) AllowTool(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.Tooling.Allow {
		if n == name {
			return
		}
	}
	c.Tooling.Allow = append(c.Tooling.Allow, name)
}

// DenyTool removes name from the tooling allow-list (`/tool deny <name>`).
func (c *WorkspaceConfig) DenyTool(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.Tooling.Allow[:0]
	for _, n := range c.Tooling.Allow {
		if n != name {
			out = append(out, n)
		}
	}
	c.Tooling.Allow = out
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
