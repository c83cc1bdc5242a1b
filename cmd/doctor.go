package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("msgcode doctor")
	fmt.Printf("  Version:   %s (protocol %s)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:        %s\n", runtime.Version())
	fmt.Println()

	gcfg, err := config.LoadGlobalConfig()
	if err != nil {
		fmt.Printf("  Global config load error: %s\n", err)
		return
	}

	fmt.Println("  Environment:")
	checkRequiredEnv("MSGCODE_OWNER", gcfg.Owner)
	checkOptionalEnv("WORKSPACE_ROOT", gcfg.WorkspaceRoot)
	checkOptionalEnv("MSGCODE_DESKTOPCTL_PATH", gcfg.DesktopCtlPath)
	checkOptionalEnv("IMSG_PATH", gcfg.TransportBinPath)

	fmt.Println()
	fcfgPath := gcfg.FileConfigPath()
	fmt.Printf("  Config:    %s", fcfgPath)
	if _, statErr := os.Stat(fcfgPath); statErr != nil {
		fmt.Println(" (NOT FOUND — run: msgcode init)")
	} else {
		fmt.Println(" (OK)")
	}

	fcfg, err := config.LoadFileConfig(fcfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Providers:")
	if len(fcfg.Providers) == 0 {
		fmt.Println("    (none configured)")
	}
	for name, creds := range fcfg.Providers {
		checkProvider(name, creds.APIKey)
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	if fcfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "Status:", "enabled", fcfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-12s disabled\n", "Status:")
	}

	fmt.Println()
	fmt.Println("  External tools:")
	checkBinary("tmux")
	checkBinary(orDefault(fcfg.TmuxClient, "claude"))

	fmt.Println()
	root := config.ExpandHome(gcfg.WorkspaceRoot)
	fmt.Printf("  Workspace root: %s", root)
	if root == "" {
		fmt.Println(" (NOT SET — see WORKSPACE_ROOT)")
	} else if _, statErr := os.Stat(root); statErr != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	sockPath := gcfg.ControlSocketPath()
	fmt.Printf("  Control socket: %s", sockPath)
	if _, statErr := os.Stat(sockPath); statErr != nil {
		fmt.Println(" (not running)")
	} else {
		fmt.Println(" (present)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkRequiredEnv(name, value string) {
	if value == "" {
		fmt.Printf("    %-28s MISSING (required)\n", name+":")
		return
	}
	fmt.Printf("    %-28s %s\n", name+":", value)
}

func checkOptionalEnv(name, value string) {
	if value == "" {
		fmt.Printf("    %-28s (not set)\n", name+":")
		return
	}
	fmt.Printf("    %-28s %s\n", name+":", value)
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(apiKey) > 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", path)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
