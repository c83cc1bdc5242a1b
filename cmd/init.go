package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/42atom/msgcode/internal/config"
)

// initCmd runs the interactive onboarding wizard that writes the file-backed
// global config (`~/.config/msgcode/config.json`), per SPEC_FULL.md §1/§3.
// Grounded on the teacher's onboard_auto.go in shape (resolve provider,
// resolve workspace, write config) but collected into one huh.Form instead
// of the teacher's env-var auto-detect pass, since msgcode has no
// multi-agent gateway config to auto-detect against.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively configure msgcode's global defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	gcfg, err := config.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("load environment config: %w", err)
	}
	fcfg, err := config.LoadFileConfig(gcfg.FileConfigPath())
	if err != nil {
		return fmt.Errorf("load existing config: %w", err)
	}

	workspaceRoot := gcfg.WorkspaceRoot
	provider := fcfg.DefaultProvider
	apiBase := ""
	apiKey := ""
	runtimeKind := string(fcfg.DefaultRuntime)
	policyMode := string(fcfg.DefaultPolicy)
	tmuxClient := fcfg.TmuxClient
	telemetry := fcfg.Telemetry.Enabled

	if existing, ok := fcfg.Providers[provider]; ok {
		apiBase = existing.APIBase
		apiKey = existing.APIKey
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace root").
				Description("Directory under which bound chat workspaces must live").
				Value(&workspaceRoot),
			huh.NewSelect[string]().
				Title("Default provider").
				Options(
					huh.NewOption("lmstudio", "lmstudio"),
					huh.NewOption("openai", "openai"),
					huh.NewOption("openrouter", "openrouter"),
					huh.NewOption("anthropic", "anthropic"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Provider API base URL").
				Description("Leave blank to use the provider's default endpoint").
				Value(&apiBase),
			huh.NewInput().
				Title("Provider API key").
				Description("Leave blank if the provider needs none (e.g. a local lmstudio server)").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewSelect[string]().
				Title("Default runtime kind for newly bound workspaces").
				Options(
					huh.NewOption("agent (tool-calling loop)", "agent"),
					huh.NewOption("client (hand off to an external interactive CLI)", "client"),
				).
				Value(&runtimeKind),
			huh.NewSelect[string]().
				Title("Default policy mode").
				Options(
					huh.NewOption("local-only", "local-only"),
					huh.NewOption("egress-allowed", "egress-allowed"),
				).
				Value(&policyMode),
			huh.NewInput().
				Title("tmux client command").
				Description("The interactive CLI the Client Pipeline hosts inside tmux").
				Value(&tmuxClient),
			huh.NewConfirm().
				Title("Enable OTLP telemetry export?").
				Value(&telemetry),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboarding form: %w", err)
	}

	if fcfg.Providers == nil {
		fcfg.Providers = map[string]config.ProviderCredentials{}
	}
	fcfg.Providers[provider] = config.ProviderCredentials{APIBase: apiBase, APIKey: apiKey}
	fcfg.DefaultProvider = provider
	fcfg.DefaultRuntime = config.RuntimeKind(runtimeKind)
	fcfg.DefaultPolicy = config.PolicyMode(policyMode)
	fcfg.TmuxClient = tmuxClient
	fcfg.Telemetry.Enabled = telemetry

	gcfg.WorkspaceRoot = workspaceRoot
	if err := fcfg.Save(gcfg.FileConfigPath()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Wrote %s\n", gcfg.FileConfigPath())
	if workspaceRoot != "" {
		fmt.Println("Remember to export WORKSPACE_ROOT (and MSGCODE_OWNER) before running `msgcode start`.")
	}
	return nil
}
