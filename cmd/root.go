// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/command"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ttlbridge",
	Short: "ttlbridge - OSC trigger to sample-accurate TTL pulse bridge",
	Long: `ttlbridge listens for OpenSoundControl trigger messages over UDP and turns
them into TTL edge events placed on exact sample numbers of the acquisition
streams. Edges are fanned out to configured sinks (console, Kafka, MQTT, GPIO).

Features:
  - Sample-accurate placement: ON at the first sample of the next buffer,
    OFF exactly one pulse duration later, across buffer boundaries
  - Live reconfiguration: port, bind address, pattern, pulse duration
  - Local control: CLI via Unix Domain Socket
  - Remote control: Kafka command subscription
  - Offline tooling: send test triggers, replay pcap captures`,
	Version:      command.Version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ttlbridge/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/ttlbridge.sock",
		"daemon socket path")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(stimCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(acquisitionCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
}

