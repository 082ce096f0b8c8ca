package cmd

import (
	"context"
	"fmt"
	"time"

	"firestige.xyz/ttlbridge/internal/command"
)

const clientTimeout = 10 * time.Second

// ControlClient is the daemon control surface the commands need.
type ControlClient interface {
	Status(ctx context.Context) (*command.Response, error)
	Shutdown(ctx context.Context) (*command.Response, error)
	ConfigReload(ctx context.Context) (*command.Response, error)
	StimSet(ctx context.Context, enabled bool) (*command.Response, error)
	OSCSet(ctx context.Context, params command.OSCSetParams) (*command.Response, error)
	PulseSet(ctx context.Context, durationMs int) (*command.Response, error)
	AcquisitionStart(ctx context.Context) (*command.Response, error)
	AcquisitionStop(ctx context.Context) (*command.Response, error)
	TriggerInject(ctx context.Context, line int, state bool) (*command.Response, error)
}

// newClient is swapped out in tests.
var newClient = func() ControlClient {
	return command.NewUDSClient(socketPath, clientTimeout)
}

// result unwraps a response into its result or an error.
func result(method string, resp *command.Response, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s: empty response", method)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s failed (%d): %s", method, resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}
