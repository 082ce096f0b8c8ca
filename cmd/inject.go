package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/command"
)

var injectState bool

var injectCmd = &cobra.Command{
	Use:   "inject LINE",
	Short: "Queue a trigger directly, bypassing the network",
	Long: `Queue a trigger on the running daemon as if it had arrived over OSC.
Acquisition must be running.

Examples:
  ttlbridge inject 3
  ttlbridge inject 3 --state=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid line %q: %w", args[0], err)
		}
		return runInject(cmd.Context(), newClient(), cmd.OutOrStdout(), line, injectState)
	},
}

func init() {
	injectCmd.Flags().BoolVar(&injectState, "state", true, "requested line state")
}

func runInject(ctx context.Context, client ControlClient, out io.Writer, line int, state bool) error {
	resp, err := client.TriggerInject(ctx, line, state)
	if _, err := result(command.MethodTriggerInject, resp, err); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Trigger queued: line %d state %t\n", line, state)
	return nil
}
