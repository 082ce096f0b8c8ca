//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// openLines requests every mapped offset as an output driven inactive.
func openLines(cfg Config) (map[int]outputLine, interface{ Close() error }, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer("ttlbridge"))
	if err != nil {
		return nil, nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	lines := make(map[int]outputLine, len(cfg.Lines))
	for ttl, offset := range cfg.Lines {
		l, err := chip.RequestLine(offset, opts...)
		if err != nil {
			for _, opened := range lines {
				opened.Close()
			}
			chip.Close()
			return nil, nil, fmt.Errorf("request gpio offset %d for ttl line %d: %w", offset, ttl, err)
		}
		lines[ttl] = l
	}
	return lines, chip, nil
}
