// Package core defines core types.
package core

// Labels represents key-value metadata attached to emitted edges.
type Labels map[string]string

// Label naming constants following {scope}.{field} convention.
const (
	LabelNodeID = "node.id"
	LabelStream = "ttl.stream"
	LabelLine   = "ttl.line"
	LabelEdge   = "ttl.edge" // rising | falling
)
