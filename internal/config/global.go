package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// GlobalConfig holds the process-wide settings that are not workspace
// specific, sourced from environment variables per spec §6's enumerated
// list. None of these are read from a config.json — they are the seam
// between the OS environment and the rest of the runtime.
type GlobalConfig struct {
	// Owner is the required MSGCODE_OWNER sender identity; messages from
	// this identity are honored even when isFromMe is set.
	Owner string
	// OwnerOnlyInGroup restricts group chats to owner-issued commands.
	OwnerOnlyInGroup bool
	// WorkspaceRoot overrides the configured root directory for all
	// route-bound workspaces.
	WorkspaceRoot string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogConsole additionally mirrors structured logs to stderr.
	LogConsole bool
	// DesktopCtlPath is the desktop host binary invoked by the Session Pool.
	DesktopCtlPath string
	// TransportBinPath is the messaging transport binary invoked by the
	// Transport Adapter (spec calls this IMSG_PATH for the reference
	// messaging surface).
	TransportBinPath string
	// TestHooksEnabled gates test-only seams (modal detector injection,
	// etc.) and must never be set in production.
	TestHooksEnabled bool

	// ConfigDir is `~/.config/msgcode`.
	ConfigDir string
}

// LoadGlobalConfig reads the enumerated environment variables from spec §6.
func LoadGlobalConfig() (*GlobalConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(home, ".config", "msgcode")

	g := &GlobalConfig{
		Owner:            os.Getenv("MSGCODE_OWNER"),
		OwnerOnlyInGroup: boolEnv("MSGCODE_OWNER_ONLY_IN_GROUP"),
		WorkspaceRoot:    os.Getenv("WORKSPACE_ROOT"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogConsole:       boolEnv("LOG_CONSOLE"),
		DesktopCtlPath:   os.Getenv("MSGCODE_DESKTOPCTL_PATH"),
		TransportBinPath: os.Getenv("IMSG_PATH"),
		TestHooksEnabled: boolEnv("OPENCLAW_DESKTOP_TEST_HOOKS"),
		ConfigDir:        configDir,
	}
	return g, nil
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RoutesPath returns `~/.config/msgcode/routes.json`.
func (g *GlobalConfig) RoutesPath() string { return filepath.Join(g.ConfigDir, "routes.json") }

// StatePath returns `~/.config/msgcode/state.json`.
func (g *GlobalConfig) StatePath() string { return filepath.Join(g.ConfigDir, "state.json") }

// SoulsDir returns `~/.config/msgcode/souls/`.
func (g *GlobalConfig) SoulsDir() string { return filepath.Join(g.ConfigDir, "souls") }

// LogPath returns `~/.config/msgcode/log/msgcode.log`.
func (g *GlobalConfig) LogPath() string {
	return filepath.Join(g.ConfigDir, "log", "msgcode.log")
}

// ControlSocketPath returns the Unix domain socket used by stop/allstop.
func (g *GlobalConfig) ControlSocketPath() string {
	return filepath.Join(g.ConfigDir, "control.sock")
}

// FileConfigPath returns `~/.config/msgcode/config.json`, the file-backed
// sibling of GlobalConfig's environment-sourced values (spec §3 EXPANSION:
// "new in this expansion to hold MSGCODE_OWNER-independent runtime
// defaults, provider credentials endpoints, and default policy").
func (g *GlobalConfig) FileConfigPath() string { return filepath.Join(g.ConfigDir, "config.json") }

// TracingConfig is the `telemetry.*` key group of the file-backed global
// config (spec §4.17: "When telemetry.enabled=true in the global config").
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Protocol    string `json:"protocol"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"serviceName"`
}

// ProviderCredentials is one entry of the `providers.*` key group: the
// endpoint and key a named provider adapter is constructed from.
type ProviderCredentials struct {
	APIBase string `json:"apiBase"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

// FileConfig is the parsed contents of `~/.config/msgcode/config.json`:
// runtime defaults applied to newly bound workspaces, provider credentials,
// and the telemetry switch. Independent of GlobalConfig's environment
// values, which remain the seam for owner identity and filesystem roots.
type FileConfig struct {
	DefaultPolicy   PolicyMode                      `json:"defaultPolicy"`
	DefaultRuntime  RuntimeKind                      `json:"defaultRuntime"`
	DefaultProvider string                           `json:"defaultProvider"`
	TmuxClient      string                           `json:"tmuxClient"`
	Providers       map[string]ProviderCredentials  `json:"providers,omitempty"`
	Telemetry       TracingConfig                    `json:"telemetry"`
}

func defaultFileConfig() *FileConfig {
	return &FileConfig{
		DefaultPolicy:   PolicyLocalOnly,
		DefaultRuntime:  RuntimeAgent,
		DefaultProvider: "lmstudio",
		TmuxClient:      "claude",
	}
}

// LoadFileConfig reads and parses the file-backed global config, JSON5
// first with a strict-JSON fallback (matching LoadWorkspaceConfig's
// tolerance). A missing file returns defaults rather than an error, so
// `doctor`/`start` can run before `init` has ever been invoked.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultFileConfig(), nil
		}
		return nil, fmt.Errorf("read global config: %w", err)
	}

	cfg := defaultFileConfig()
	if jerr := json5.Unmarshal(data, cfg); jerr != nil {
		if serr := json.Unmarshal(data, cfg); serr != nil {
			return nil, fmt.Errorf("parse global config (json5: %v, json: %w)", jerr, serr)
		}
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed. Used by the onboarding wizard to persist the operator's choices.
func (cfg *FileConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
