// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ttlbridge/internal/command"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the ttlbridge daemon for its overall status.

Shows: version, uptime, listener binding and settings, acquisition state,
per-stream sample counters, dispatcher and sink counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), newClient(), cmd.OutOrStdout(), statusOutput)
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "json", "output format: json|yaml")
}

func runStatus(ctx context.Context, client ControlClient, out io.Writer, format string) error {
	resp, err := client.Status(ctx)
	res, err := result(command.MethodDaemonStatus, resp, err)
	if err != nil {
		return err
	}
	return printResult(out, res, format)
}

func printResult(out io.Writer, v any, format string) error {
	switch format {
	case "json", "":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}
