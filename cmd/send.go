package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/osc"
)

// oscSender delivers OSC packets to a bridge.
type oscSender interface {
	Send(packet goosc.Packet) error
}

type sendOptions struct {
	To       string
	Address  string
	Line     int
	State    bool
	Count    int
	Interval time.Duration
}

var sendOpts = sendOptions{}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send trigger messages to a bridge over OSC",
	Long: `Send one or more OSC trigger messages, for testing a running bridge.

Examples:
  ttlbridge send --line 1
  ttlbridge send --to 10.0.0.5:27020 --line 2 --count 10 --interval 500ms`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newOSCClient(sendOpts.To)
		if err != nil {
			return err
		}
		return runSend(cmd.Context(), client, cmd.OutOrStdout(), sendOpts)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendOpts.To, "to", fmt.Sprintf("127.0.0.1:%d", core.DefaultPort), "bridge host:port")
	sendCmd.Flags().StringVar(&sendOpts.Address, "address", core.DefaultPattern, "OSC address")
	sendCmd.Flags().IntVarP(&sendOpts.Line, "line", "l", 0, "TTL line")
	sendCmd.Flags().BoolVar(&sendOpts.State, "state", true, "requested line state")
	sendCmd.Flags().IntVarP(&sendOpts.Count, "count", "n", 1, "number of messages")
	sendCmd.Flags().DurationVar(&sendOpts.Interval, "interval", 100*time.Millisecond, "delay between messages")
}

func newOSCClient(hostport string) (*goosc.Client, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid target port %q", portStr)
	}
	return goosc.NewClient(host, port), nil
}

func runSend(ctx context.Context, sender oscSender, out io.Writer, opts sendOptions) error {
	if opts.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", opts.Count)
	}
	for i := 0; i < opts.Count; i++ {
		if i > 0 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		msg := osc.NewTriggerMessage(opts.Address, opts.Line, opts.State)
		if err := sender.Send(msg); err != nil {
			return fmt.Errorf("failed to send message %d: %w", i+1, err)
		}
	}
	fmt.Fprintf(out, "✓ Sent %d trigger(s) to %s: %s line %d state %t\n",
		opts.Count, opts.To, opts.Address, opts.Line, opts.State)
	return nil
}
