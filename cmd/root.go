// Package cmd is the cobra CLI entrypoint: init, start, stop, allstop,
// doctor, version, per SPEC_FULL.md §1's process model. Grounded on the
// teacher's cmd/root.go (persistent flags, one Cmd-factory-per-file,
// Version ldflags hook), narrowed to msgcode's six one-shot/foreground
// subcommands in place of the teacher's multi-agent-gateway surface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/42atom/msgcode/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/42atom/msgcode/cmd.Version=v1.0.0"
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "msgcode",
	Short: "msgcode — a locally hosted conversational agent runtime",
	Long: "msgcode bridges a messaging surface to one or more AI backends: " +
		"bind chats to workspaces, run a tool-calling agent loop or hand off " +
		"to an external interactive CLI, and administer the runtime with " +
		"slash commands from inside the chat itself.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(allstopCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("msgcode %s (protocol %s)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// Execute runs the root cobra command and returns its error, leaving
// process-exit decisions to main.
func Execute() error {
	return rootCmd.Execute()
}
