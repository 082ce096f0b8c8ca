// Package osc receives OpenSoundControl trigger packets over UDP.
package osc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"firestige.xyz/ttlbridge/internal/core"
)

// ErrAddressMismatch is returned for messages whose address does not match
// the listener pattern.
var ErrAddressMismatch = errors.New("ttlbridge: osc address mismatch")

// Outcome is the result of interpreting one OSC message.
type Outcome struct {
	Address string
	Trigger core.TriggerMessage
	Err     error // nil when Trigger is valid
}

// Decode parses a datagram into its messages. Bundles are flattened
// depth-first: a bundle's own messages come before those of nested bundles.
func Decode(data []byte) (msgs []*osc.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msgs = nil
			err = fmt.Errorf("%w: %v", core.ErrDecodeFailure, r)
		}
	}()

	pkt, err := osc.ParsePacket(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecodeFailure, err)
	}

	switch p := pkt.(type) {
	case *osc.Message:
		return []*osc.Message{p}, nil
	case *osc.Bundle:
		return flatten(p, nil), nil
	default:
		return nil, fmt.Errorf("%w: unexpected packet type %T", core.ErrDecodeFailure, pkt)
	}
}

func flatten(b *osc.Bundle, out []*osc.Message) []*osc.Message {
	out = append(out, b.Messages...)
	for _, nested := range b.Bundles {
		out = flatten(nested, out)
	}
	return out
}

// Extract interprets msg as a trigger if its address equals pattern,
// ignoring case. The first argument is the line; the optional second is
// the state and defaults to true.
func Extract(msg *osc.Message, pattern string) (core.TriggerMessage, error) {
	if !strings.EqualFold(msg.Address, pattern) {
		return core.TriggerMessage{}, ErrAddressMismatch
	}

	line := -1
	state := true

	if len(msg.Arguments) > 0 {
		v, ok := asInt(msg.Arguments[0])
		if !ok {
			return core.TriggerMessage{}, fmt.Errorf("%w: line argument has type %T", core.ErrDecodeFailure, msg.Arguments[0])
		}
		line = v
	}
	if len(msg.Arguments) > 1 {
		v, ok := asBool(msg.Arguments[1])
		if !ok {
			return core.TriggerMessage{}, fmt.Errorf("%w: state argument has type %T", core.ErrDecodeFailure, msg.Arguments[1])
		}
		state = v
	}

	return core.NewTriggerMessage(line, state)
}

// Parse decodes data and extracts a trigger from every message in it.
func Parse(data []byte, pattern string) ([]Outcome, error) {
	msgs, err := Decode(data)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(msgs))
	for _, m := range msgs {
		trig, err := Extract(m, pattern)
		out = append(out, Outcome{Address: m.Address, Trigger: trig, Err: err})
	}
	return out, nil
}

// NewTriggerMessage builds the OSC message a sender emits for one trigger.
func NewTriggerMessage(address string, line int, state bool) *osc.Message {
	return osc.NewMessage(address, int32(line), state)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int32:
		return b != 0, true
	case int64:
		return b != 0, true
	}
	return false, false
}
