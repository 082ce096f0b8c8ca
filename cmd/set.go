package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/command"
)

var setCmd = &cobra.Command{
	Use:   "set port|address|pattern|duration VALUE",
	Short: "Change a live listener or pulse setting",
	Long: `Change a setting on the running daemon.

  port      UDP port to listen on, 1024-49151 (rebinds the listener)
  address   IPv4 bind address (rebinds the listener)
  pattern   OSC address accepted as a trigger, e.g. /ttl
  duration  pulse length in milliseconds, 0-5000 (0 passes the state through)

Examples:
  ttlbridge set port 27021
  ttlbridge set duration 20`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"port", "address", "pattern", "duration"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSet(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], args[1])
	},
}

func runSet(ctx context.Context, client ControlClient, out io.Writer, key, value string) error {
	var (
		resp   *command.Response
		err    error
		method = command.MethodOSCSet
	)

	switch key {
	case "port":
		port, convErr := strconv.Atoi(value)
		if convErr != nil {
			return fmt.Errorf("invalid port %q: %w", value, convErr)
		}
		resp, err = client.OSCSet(ctx, command.OSCSetParams{Port: &port})
	case "address":
		resp, err = client.OSCSet(ctx, command.OSCSetParams{Address: &value})
	case "pattern":
		resp, err = client.OSCSet(ctx, command.OSCSetParams{Pattern: &value})
	case "duration":
		ms, convErr := strconv.Atoi(value)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", value, convErr)
		}
		method = command.MethodPulseSet
		resp, err = client.PulseSet(ctx, ms)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	if _, err := result(method, resp, err); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ %s set to %s\n", key, value)
	return nil
}
