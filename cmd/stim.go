package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/command"
)

var stimCmd = &cobra.Command{
	Use:       "stim on|off",
	Short:     "Enable or disable stimulation",
	Long:      `While stimulation is off, queued triggers are held and no edges are emitted.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return runStim(cmd.Context(), newClient(), cmd.OutOrStdout(), enabled)
	},
}

func runStim(ctx context.Context, client ControlClient, out io.Writer, enabled bool) error {
	resp, err := client.StimSet(ctx, enabled)
	if _, err := result(command.MethodStimSet, resp, err); err != nil {
		return err
	}
	if enabled {
		fmt.Fprintln(out, "✓ Stimulation enabled")
	} else {
		fmt.Fprintln(out, "✓ Stimulation disabled")
	}
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
