// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/config"
)

var validatePrint bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a ttlbridge configuration file without starting the daemon.

Environment overrides (TTLBRIDGE_*) are applied as the daemon would apply them.
With --print the effective configuration, defaults included, is written as YAML.

Examples:
  ttlbridge validate -c /etc/ttlbridge/config.yml
  ttlbridge validate -c config.yml --print`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile, validatePrint)
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration")
}

func runValidate(out io.Writer, path string, printCfg bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	if printCfg {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "VALID: osc %s:%d %s, pulse %dms, %d stream(s), %d sink(s)\n",
		cfg.OSC.Address, cfg.OSC.Port, cfg.OSC.Pattern,
		cfg.Pulse.DurationMs, len(cfg.Engine.Streams), len(cfg.Sinks))
	return nil
}
