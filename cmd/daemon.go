// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run ttlbridge daemon in foreground",
	Long: `Run the ttlbridge daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Start the edge dispatcher and its sinks
  4. Bind the OSC listener, walking upward past ports in use
  5. Start the acquisition engine (if auto_start is set)
  6. Start UDS server for CLI control and the Kafka consumer (if configured)
  7. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default from config)")
}

func runDaemon() error {
	fmt.Println("Starting ttlbridge daemon...")
	fmt.Printf("Config: %s\n", configFile)

	socket := ""
	if rootCmd.PersistentFlags().Changed("socket") {
		socket = socketPath
	}

	// Create daemon instance
	d, err := daemon.New(configFile, socket, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Start all components
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
