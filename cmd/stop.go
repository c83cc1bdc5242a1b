package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/42atom/msgcode/internal/config"
	"github.com/42atom/msgcode/pkg/protocol"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running instance to drain and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControlCommand("stop")
		},
	}
}

func allstopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allstop",
		Short: "Stop and cancel any in-flight tool calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControlCommand("allstop")
		},
	}
}

// sendControlCommand dials the running `start` process's control socket
// and issues method over the same protocol.LineCodec envelope used
// throughout the rest of the system, per SPEC_FULL.md §6.
func sendControlCommand(method string) error {
	gcfg, err := config.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("load environment config: %w", err)
	}

	conn, err := net.DialTimeout("unix", gcfg.ControlSocketPath(), 2*time.Second)
	if err != nil {
		return fmt.Errorf("no running msgcode instance found at %s: %w", gcfg.ControlSocketPath(), err)
	}
	defer conn.Close()

	codec := protocol.NewLineCodec(conn)
	go codec.Run(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	env, err := codec.Call(ctx, method, nil)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%s rejected: %s", method, env.Error.Message)
	}
	fmt.Printf("%s acknowledged\n", method)
	return nil
}
