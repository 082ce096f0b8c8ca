package osc

import (
	"fmt"
	"log/slog"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/metrics"
)

// MaxPort is the default upper bound of the retry walk.
const MaxPort = core.MaxPort

// RetryPolicy bounds the port walk of BindWithRetry.
type RetryPolicy struct {
	MaxPort     int // highest port tried; 0 means MaxPort
	MaxAttempts int // 0 means no limit besides MaxPort
}

// BindOnce makes exactly one bind attempt. On failure the listener is
// discarded and a *core.BindError is returned. On success the listener is
// already started.
func BindOnce(address string, port int, pattern string, recv Receiver) (*Listener, error) {
	l := NewListener(address, port, pattern, recv)
	if !l.IsBound() {
		metrics.BindAttemptsTotal.WithLabelValues(metrics.BindFailure).Inc()
		l.Stop()
		return nil, l.Err()
	}
	metrics.BindAttemptsTotal.WithLabelValues(metrics.BindSuccess).Inc()
	l.Start()
	return l, nil
}

// BindWithRetry tries port, port+1, ... until a bind succeeds and returns
// the started listener. Its Port is the effective port.
func BindWithRetry(address string, port int, pattern string, recv Receiver, policy RetryPolicy) (*Listener, error) {
	maxPort := policy.MaxPort
	if maxPort <= 0 {
		maxPort = MaxPort
	}

	var lastErr error
	attempts := 0
	for p := port; p <= maxPort; p++ {
		if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
			break
		}
		attempts++

		l, err := BindOnce(address, p, pattern, recv)
		if err == nil {
			if p != port {
				slog.Info("osc listener bound on fallback port", "requested", port, "port", l.Port(), "attempts", attempts)
			}
			return l, nil
		}
		slog.Debug("osc bind failed, trying next port", "port", p, "error", err)
		lastErr = err
	}

	if lastErr == nil {
		return nil, &core.BindError{Address: address, Port: port, Err: fmt.Errorf("port above limit %d", maxPort)}
	}
	return nil, fmt.Errorf("no port available from %d after %d attempts: %w", port, attempts, lastErr)
}
