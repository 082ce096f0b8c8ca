package command

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"firestige.xyz/ttlbridge/internal/metrics"
)

const jsonrpcVersion = "2.0"

// knownMethods lists every method the bridge answers. Anything else is
// reported as "unknown" in metrics so stray names cannot grow the label set.
var knownMethods = map[string]struct{}{
	MethodDaemonStatus:     {},
	MethodDaemonShutdown:   {},
	MethodConfigReload:     {},
	MethodStimSet:          {},
	MethodOSCSet:           {},
	MethodPulseSet:         {},
	MethodAcquisitionStart: {},
	MethodAcquisitionStop:  {},
	MethodTriggerInject:    {},
}

// IsKnownMethod reports whether m is a bridge control method.
func IsKnownMethod(m string) bool {
	_, ok := knownMethods[m]
	return ok
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// command validates the envelope and converts it to a Command.
func (r JSONRPCRequest) command() (Command, *ErrorInfo) {
	if r.JSONRPC != jsonrpcVersion {
		return Command{}, &ErrorInfo{Code: ErrCodeInvalidRequest, Message: `jsonrpc must be "2.0"`}
	}
	if r.Method == "" {
		return Command{}, &ErrorInfo{Code: ErrCodeInvalidRequest, Message: "method is required"}
	}
	return Command{Method: r.Method, Params: r.Params, ID: idString(r.ID)}, nil
}

func reply(id any, resp Response) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: jsonrpcVersion, ID: id, Result: resp.Result, Error: resp.Error}
}

// idString renders a JSON-RPC id. Numbers decode as float64, so integral
// ids print without a fraction.
func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// serve runs cmd through h and records it against the channel it came in on.
func serve(ctx context.Context, h *CommandHandler, channel string, cmd Command) Response {
	began := time.Now()
	resp := h.Handle(ctx, cmd)
	result := resultLabel(resp.Error)
	countCommand(channel, cmd.Method, result)
	slog.Debug("command served",
		"channel", channel,
		"method", cmd.Method,
		"id", cmd.ID,
		"result", result,
		"took", time.Since(began),
	)
	return resp
}

func countCommand(channel, method, result string) {
	if !IsKnownMethod(method) {
		method = "unknown"
	}
	metrics.CommandsTotal.WithLabelValues(channel, method, result).Inc()
}

func resultLabel(e *ErrorInfo) string {
	if e == nil {
		return "ok"
	}
	switch e.Code {
	case ErrCodeInvalidParams:
		return "invalid_params"
	case ErrCodeMethodNotFound:
		return "method_not_found"
	case ErrCodeParseError, ErrCodeInvalidRequest:
		return "bad_request"
	}
	return "error"
}
