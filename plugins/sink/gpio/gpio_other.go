//go:build !linux

package gpio

import "errors"

func openLines(cfg Config) (map[int]outputLine, interface{ Close() error }, error) {
	return nil, nil, errors.New("gpio sink requires linux")
}
