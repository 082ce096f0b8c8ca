// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"strconv"
	"time"
)

// Datagram is one UDP payload as received from the network or read from a capture.
type Datagram struct {
	Data      []byte
	Timestamp time.Time
	Src       netip.AddrPort
	Dst       netip.AddrPort
}

// OutputEdge is the envelope handed to sinks.
type OutputEdge struct {
	NodeID    string
	Timestamp time.Time // wall clock at emission
	Edge      PulseEdge
	Labels    Labels
}

// NewOutputEdge builds the envelope and its standard labels.
func NewOutputEdge(nodeID string, ts time.Time, edge PulseEdge) OutputEdge {
	return OutputEdge{
		NodeID:    nodeID,
		Timestamp: ts,
		Edge:      edge,
		Labels: Labels{
			LabelNodeID: nodeID,
			LabelStream: string(edge.StreamID),
			LabelLine:   strconv.Itoa(edge.Line),
			LabelEdge:   edge.Kind(),
		},
	}
}
