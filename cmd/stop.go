// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/command"
	"firestige.xyz/ttlbridge/internal/daemon"
)

var (
	stopForce   bool
	stopPIDFile string
	stopTimeout time.Duration
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ttlbridge daemon",
	Long: `Stop the ttlbridge daemon gracefully.

This command sends a shutdown request to the running daemon via Unix Domain Socket.
The daemon stops acquisition, drains pending edges to the sinks, and exits cleanly.
With --force the daemon is sent SIGTERM using its PID file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopForce {
			if err := daemon.SignalStop(stopPIDFile, stopTimeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Daemon stopped")
			return nil
		}
		return runStop(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "signal the daemon through its PID file")
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "/var/run/ttlbridge.pid", "PID file path")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for exit with --force")
}

func runStop(ctx context.Context, client ControlClient, out io.Writer) error {
	resp, err := client.Shutdown(ctx)
	if _, err := result(command.MethodDaemonShutdown, resp, err); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Shutdown requested")
	return nil
}
