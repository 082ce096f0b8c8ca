// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/ttlbridge/internal/core"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// Bridge is the daemon-side surface the handler drives.
type Bridge interface {
	Status() any
	SetEnabled(enabled bool)
	SetOSC(params OSCSetParams) error
	SetDuration(ms int) error
	StartAcquisition() error
	StopAcquisition() error
	InjectTrigger(line int, state bool) error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	bridge         Bridge
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(bridge Bridge, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		bridge:         bridge,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "stim_set", "osc_set"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`               // matches request ID
	Result any        `json:"result,omitempty"` // success result
	Error  *ErrorInfo `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Method names.
const (
	MethodDaemonStatus     = "daemon_status"
	MethodDaemonShutdown   = "daemon_shutdown"
	MethodConfigReload     = "config_reload"
	MethodStimSet          = "stim_set"
	MethodOSCSet           = "osc_set"
	MethodPulseSet         = "pulse_set"
	MethodAcquisitionStart = "acquisition_start"
	MethodAcquisitionStop  = "acquisition_stop"
	MethodTriggerInject    = "trigger_inject"
)

// StimSetParams represents parameters for stim_set.
type StimSetParams struct {
	Enabled bool `json:"enabled"`
}

// OSCSetParams represents parameters for osc_set. Nil fields are left unchanged.
type OSCSetParams struct {
	Port    *int    `json:"port,omitempty"`
	Address *string `json:"address,omitempty"`
	Pattern *string `json:"pattern,omitempty"`
}

// PulseSetParams represents parameters for pulse_set.
type PulseSetParams struct {
	DurationMs int `json:"duration_ms"`
}

// TriggerInjectParams represents parameters for trigger_inject.
type TriggerInjectParams struct {
	Line  int   `json:"line"`
	State *bool `json:"state,omitempty"` // default true
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	}

	if h.bridge == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "bridge not available")
	}

	switch cmd.Method {
	case MethodStimSet:
		return h.handleStimSet(ctx, cmd)
	case MethodOSCSet:
		return h.handleOSCSet(ctx, cmd)
	case MethodPulseSet:
		return h.handlePulseSet(ctx, cmd)
	case MethodAcquisitionStart:
		return h.handleAcquisition(cmd, true)
	case MethodAcquisitionStop:
		return h.handleAcquisition(cmd, false)
	case MethodTriggerInject:
		return h.handleTriggerInject(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    code,
			Message: msg,
		},
	}
}

// decodeParams rejects a missing or malformed params object.
func decodeParams(cmd Command, out any) *Response {
	if len(cmd.Params) == 0 {
		r := errorResponse(cmd.ID, ErrCodeInvalidParams, "params required")
		return &r
	}
	if err := json.Unmarshal(cmd.Params, out); err != nil {
		r := errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return &r
	}
	return nil
}

// handleStimSet toggles stimulation.
func (h *CommandHandler) handleStimSet(_ context.Context, cmd Command) Response {
	var params StimSetParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	h.bridge.SetEnabled(params.Enabled)
	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"enabled": params.Enabled,
		},
	}
}

// handleOSCSet applies listener settings. Each change rebuilds the listener
// with a single bind attempt.
func (h *CommandHandler) handleOSCSet(_ context.Context, cmd Command) Response {
	var params OSCSetParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	if params.Port == nil && params.Address == nil && params.Pattern == nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "one of port, address or pattern is required")
	}
	if err := h.bridge.SetOSC(params); err != nil {
		return errorResponse(cmd.ID, codeFor(err), fmt.Sprintf("osc_set failed: %v", err))
	}
	return Response{
		ID:     cmd.ID,
		Result: h.bridge.Status(),
	}
}

// handlePulseSet sets the pulse duration.
func (h *CommandHandler) handlePulseSet(_ context.Context, cmd Command) Response {
	var params PulseSetParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	if err := h.bridge.SetDuration(params.DurationMs); err != nil {
		return errorResponse(cmd.ID, codeFor(err), fmt.Sprintf("pulse_set failed: %v", err))
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"duration_ms": params.DurationMs,
		},
	}
}

// handleAcquisition starts or stops the engine.
func (h *CommandHandler) handleAcquisition(cmd Command, start bool) Response {
	var (
		err    error
		status string
	)
	if start {
		err, status = h.bridge.StartAcquisition(), "acquiring"
	} else {
		err, status = h.bridge.StopAcquisition(), "stopped"
	}
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("%s failed: %v", cmd.Method, err))
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"status": status,
		},
	}
}

// handleTriggerInject queues a trigger as if it had arrived over the network.
func (h *CommandHandler) handleTriggerInject(_ context.Context, cmd Command) Response {
	var params TriggerInjectParams
	if r := decodeParams(cmd, &params); r != nil {
		return *r
	}
	state := true
	if params.State != nil {
		state = *params.State
	}
	if err := h.bridge.InjectTrigger(params.Line, state); err != nil {
		return errorResponse(cmd.ID, codeFor(err), fmt.Sprintf("trigger_inject failed: %v", err))
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"line":   params.Line,
			"state":  state,
			"status": "queued",
		},
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}

	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"status": "shutting_down",
		},
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	result := map[string]any{
		"version":    Version,
		"uptime_sec": time.Now().Unix() - h.startTime,
	}
	if h.bridge != nil {
		result["bridge"] = h.bridge.Status()
	}
	return Response{
		ID:     cmd.ID,
		Result: result,
	}
}

// codeFor maps validation failures to invalid-params.
func codeFor(err error) int {
	if errors.Is(err, core.ErrConfigInvalid) || errors.Is(err, core.ErrInvalidTrigger) {
		return ErrCodeInvalidParams
	}
	return ErrCodeInternalError
}
