package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/command"
)

var acquisitionCmd = &cobra.Command{
	Use:     "acquisition start|stop",
	Aliases: []string{"acq"},
	Short:   "Start or stop the acquisition engine",
	Long: `Starting acquisition clears queued triggers and pending off edges and
restarts every stream's sample counter at zero. Triggers that arrive while
acquisition is stopped are dropped.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"start", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAcquisition(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0])
	},
}

func runAcquisition(ctx context.Context, client ControlClient, out io.Writer, action string) error {
	var (
		resp   *command.Response
		err    error
		method string
	)
	switch action {
	case "start":
		method = command.MethodAcquisitionStart
		resp, err = client.AcquisitionStart(ctx)
	case "stop":
		method = command.MethodAcquisitionStop
		resp, err = client.AcquisitionStop(ctx)
	default:
		return fmt.Errorf("expected start or stop, got %q", action)
	}
	if _, err := result(method, resp, err); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Acquisition %s\n", map[string]string{"start": "started", "stop": "stopped"}[action])
	return nil
}
