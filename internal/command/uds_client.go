package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"firestige.xyz/ttlbridge/internal/core"
)

// DefaultClientTimeout bounds a call when the caller passes zero.
const DefaultClientTimeout = 10 * time.Second

// UDSClient calls the bridge control methods on a running daemon. Each
// call uses its own connection.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
	seq        atomic.Uint64
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &UDSClient{socketPath: socketPath, timeout: timeout}
}

// nextID returns a request id unique to this process.
func (c *UDSClient) nextID() string {
	return fmt.Sprintf("%d-%d", os.Getpid(), c.seq.Add(1))
}

// Call sends one request and waits for its response. A daemon that is not
// listening yields core.ErrDaemonNotRunning.
func (c *UDSClient) Call(ctx context.Context, method string, params any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// cancellation unblocks a pending read
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	req := JSONRPCRequest{JSONRPC: jsonrpcVersion, Method: method, ID: c.nextID()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, c.ioError(ctx, "send", method, err)
	}

	var out JSONRPCResponse
	if err := json.NewDecoder(conn).Decode(&out); err != nil {
		return nil, c.ioError(ctx, "read", method, err)
	}

	got := idString(out.ID)
	// parse errors come back with a null id
	if (out.ID != nil || out.Error == nil) && got != req.ID {
		return nil, fmt.Errorf("%s: response id %q does not match request %q", method, got, req.ID)
	}
	return &Response{ID: got, Result: out.Result, Error: out.Error}, nil
}

func (c *UDSClient) ioError(ctx context.Context, op, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, method, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, method, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s %s: %w", op, method, err)
}

// Status is a convenience method for daemon_status.
func (c *UDSClient) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonStatus, nil)
}

// Shutdown is a convenience method for daemon_shutdown.
func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDaemonShutdown, nil)
}

// ConfigReload is a convenience method for config_reload.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodConfigReload, nil)
}

// StimSet toggles trigger forwarding.
func (c *UDSClient) StimSet(ctx context.Context, enabled bool) (*Response, error) {
	return c.Call(ctx, MethodStimSet, StimSetParams{Enabled: enabled})
}

// OSCSet changes the listener port, address or pattern. Nil fields are left
// as they are.
func (c *UDSClient) OSCSet(ctx context.Context, params OSCSetParams) (*Response, error) {
	return c.Call(ctx, MethodOSCSet, params)
}

// PulseSet sets the pulse duration; zero selects edge mode.
func (c *UDSClient) PulseSet(ctx context.Context, durationMs int) (*Response, error) {
	return c.Call(ctx, MethodPulseSet, PulseSetParams{DurationMs: durationMs})
}

func (c *UDSClient) AcquisitionStart(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodAcquisitionStart, nil)
}

func (c *UDSClient) AcquisitionStop(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodAcquisitionStop, nil)
}

// TriggerInject queues a manual edge on line.
func (c *UDSClient) TriggerInject(ctx context.Context, line int, state bool) (*Response, error) {
	return c.Call(ctx, MethodTriggerInject, TriggerInjectParams{Line: line, State: &state})
}

// Ping checks that the daemon is alive.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
