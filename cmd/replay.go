package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/ttlbridge/internal/osc"
	"firestige.xyz/ttlbridge/internal/replay"
)

type replayOptions struct {
	File     string
	Port     int
	Pattern  string
	To       string
	Realtime bool
	Output   string
}

var replayOpts = replayOptions{}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Decode OSC triggers from a pcap capture",
	Long: `Read a pcap or pcapng capture, decode the OSC datagrams in it and print
the triggers found. With --to the triggers are re-sent to a bridge, and
--realtime keeps the original inter-packet timing.

Examples:
  ttlbridge replay -f session.pcap --port 27020
  ttlbridge replay -f session.pcapng --to 127.0.0.1:27020 --realtime`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(replayOpts.File)
		if err != nil {
			return fmt.Errorf("failed to open capture: %w", err)
		}
		defer f.Close()

		var sender oscSender
		if replayOpts.To != "" {
			client, err := newOSCClient(replayOpts.To)
			if err != nil {
				return err
			}
			sender = client
		}
		return runReplay(cmd.Context(), f, sender, cmd.OutOrStdout(), replayOpts)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.File, "file", "f", "", "capture file (required)")
	replayCmd.Flags().IntVar(&replayOpts.Port, "port", 0, "UDP destination port to keep, 0 for all")
	replayCmd.Flags().StringVar(&replayOpts.Pattern, "pattern", "", "trigger OSC address (default /ttl)")
	replayCmd.Flags().StringVar(&replayOpts.To, "to", "", "re-send triggers to host:port")
	replayCmd.Flags().BoolVar(&replayOpts.Realtime, "realtime", false, "keep capture timing when re-sending")
	replayCmd.Flags().StringVarP(&replayOpts.Output, "output", "o", "text", "output format: text|json")
	_ = replayCmd.MarkFlagRequired("file")
}

type replayLine struct {
	Timestamp time.Time `json:"timestamp"`
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	Address   string    `json:"address,omitempty"`
	Line      int       `json:"line"`
	State     bool      `json:"state"`
	Error     string    `json:"error,omitempty"`
}

func runReplay(ctx context.Context, r io.Reader, sender oscSender, out io.Writer, opts replayOptions) error {
	if opts.Output != "text" && opts.Output != "json" && opts.Output != "" {
		return fmt.Errorf("unknown output format %q", opts.Output)
	}
	enc := json.NewEncoder(out)

	var last time.Time
	sum, err := replay.Scan(r, replay.Filter{Port: opts.Port, Pattern: opts.Pattern}, func(rec replay.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, l := range linesOf(rec) {
			if opts.Output == "json" {
				if err := enc.Encode(l); err != nil {
					return err
				}
			} else {
				printReplayLine(out, l)
			}
		}

		triggers := rec.Triggers()
		if sender == nil || len(triggers) == 0 {
			return nil
		}
		if opts.Realtime && !last.IsZero() {
			if gap := rec.Timestamp.Sub(last); gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		last = rec.Timestamp
		for _, o := range rec.Outcomes {
			if o.Err != nil {
				continue
			}
			if err := sender.Send(osc.NewTriggerMessage(o.Address, o.Trigger.Line(), o.Trigger.State())); err != nil {
				return fmt.Errorf("failed to re-send trigger: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if opts.Output != "json" {
		fmt.Fprintf(out, "%d packet(s), %d datagram(s), %d trigger(s), %d invalid\n",
			sum.Packets, sum.Datagrams, sum.Triggers, sum.Invalid)
	}
	return nil
}

func linesOf(rec replay.Record) []replayLine {
	base := replayLine{Timestamp: rec.Timestamp, Src: rec.Src.String(), Dst: rec.Dst.String()}
	if rec.Err != nil {
		base.Error = rec.Err.Error()
		return []replayLine{base}
	}
	lines := make([]replayLine, 0, len(rec.Outcomes))
	for _, o := range rec.Outcomes {
		l := base
		l.Address = o.Address
		if o.Err != nil {
			l.Error = o.Err.Error()
		} else {
			l.Line = o.Trigger.Line()
			l.State = o.Trigger.State()
		}
		lines = append(lines, l)
	}
	return lines
}

func printReplayLine(out io.Writer, l replayLine) {
	ts := l.Timestamp.Format("15:04:05.000000")
	if l.Error != "" {
		fmt.Fprintf(out, "%s %s -> %s %s invalid: %s\n", ts, l.Src, l.Dst, l.Address, l.Error)
		return
	}
	fmt.Fprintf(out, "%s %s -> %s %s line=%d state=%t\n", ts, l.Src, l.Dst, l.Address, l.Line, l.State)
}
