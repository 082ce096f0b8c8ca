package plugin

import "firestige.xyz/ttlbridge/internal/core"

// EdgeRecord is the serialized form of an edge shared by sinks that emit
// JSON documents.
type EdgeRecord struct {
	NodeID       string      `json:"node_id"`
	Timestamp    int64       `json:"timestamp"` // unix millis
	Stream       string      `json:"stream"`
	SampleNumber int64       `json:"sample_number"`
	Offset       int         `json:"offset"`
	Line         int         `json:"line"`
	Edge         string      `json:"edge"`
	Labels       core.Labels `json:"labels,omitempty"`
}

// NewEdgeRecord flattens an output edge.
func NewEdgeRecord(e *core.OutputEdge) EdgeRecord {
	return EdgeRecord{
		NodeID:       e.NodeID,
		Timestamp:    e.Timestamp.UnixMilli(),
		Stream:       string(e.Edge.StreamID),
		SampleNumber: e.Edge.SampleNumber,
		Offset:       e.Edge.Offset,
		Line:         e.Edge.Line,
		Edge:         e.Edge.Kind(),
		Labels:       e.Labels,
	}
}
