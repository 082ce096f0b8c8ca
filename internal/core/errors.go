// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// Listener errors
	ErrBindFailure   = errors.New("ttlbridge: socket bind failed")
	ErrDecodeFailure = errors.New("ttlbridge: packet decode failed")

	// Trigger errors
	ErrEmptyQueue     = errors.New("ttlbridge: pop on empty queue")
	ErrInvalidTrigger = errors.New("ttlbridge: invalid trigger")

	// Configuration errors
	ErrConfigInvalid = errors.New("ttlbridge: invalid configuration")

	// Plugin errors
	ErrSinkNotFound = errors.New("ttlbridge: sink not found")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("ttlbridge: daemon not running")
)

// BindError reports the address and port a listener could not bind.
type BindError struct {
	Address string
	Port    int
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("unable to bind to port %d on %s: %v", e.Port, e.Address, e.Err)
}

// Unwrap makes errors.Is(err, ErrBindFailure) hold for every BindError.
func (e *BindError) Unwrap() []error {
	return []error{ErrBindFailure, e.Err}
}
