// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger results recorded in TriggersTotal.
const (
	TriggerAccepted        = "accepted"
	TriggerFiltered        = "filtered"         // negative or missing line
	TriggerNotAcquiring    = "not_acquiring"    // dropped by the acquisition gate
	TriggerDecodeError     = "decode_error"     // malformed packet or argument types
	TriggerPatternMismatch = "pattern_mismatch" // address did not match
)

// Control channels recorded in CommandsTotal.
const (
	ChannelUDS   = "uds"
	ChannelKafka = "kafka"
)

// Bind attempt results recorded in BindAttemptsTotal.
const (
	BindSuccess = "success"
	BindFailure = "failure"
)

var (
	// PacketsReceivedTotal counts UDP datagrams read by listeners
	PacketsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttlbridge_packets_received_total",
			Help: "Total number of UDP datagrams received",
		},
		[]string{"port"},
	)

	// TriggersTotal counts decoded OSC messages by outcome
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttlbridge_triggers_total",
			Help: "Total number of trigger messages by result",
		},
		[]string{"result"},
	)

	// EdgesTotal counts emitted pulse edges
	EdgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttlbridge_edges_total",
			Help: "Total number of pulse edges emitted",
		},
		[]string{"stream", "edge"},
	)

	// OffDeferredTotal counts falling edges stored for a later buffer
	OffDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ttlbridge_off_deferred_total",
			Help: "Total number of falling edges deferred across buffers",
		},
	)

	// EdgesDroppedTotal counts edges dropped because the dispatch buffer was full
	EdgesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ttlbridge_edges_dropped_total",
			Help: "Total number of edges dropped before reaching sinks",
		},
	)

	// SinkErrorsTotal counts sink emit failures
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttlbridge_sink_errors_total",
			Help: "Total number of sink errors",
		},
		[]string{"sink"},
	)

	// BindAttemptsTotal counts socket bind attempts by result
	BindAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttlbridge_bind_attempts_total",
			Help: "Total number of listener bind attempts",
		},
		[]string{"result"},
	)

	// ListenerBound is 1 while a listener holds a bound socket
	ListenerBound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ttlbridge_listener_bound",
			Help: "Whether a trigger listener is bound (1) or not (0)",
		},
	)

	// ListenerPort is the effective bound port
	ListenerPort = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ttlbridge_listener_port",
			Help: "Port the trigger listener is bound to",
		},
	)

	// QueueDepth is the handoff queue length sampled after each cycle
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ttlbridge_queue_depth",
			Help: "Number of trigger messages waiting in the handoff queue",
		},
	)

	// CyclesTotal counts processing cycles
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ttlbridge_cycles_total",
			Help: "Total number of processing cycles run",
		},
	)

	// CycleLatencySeconds measures time spent scheduling one cycle
	CycleLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ttlbridge_cycle_latency_seconds",
			Help:    "Latency of one scheduling cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// CommandsTotal counts control commands by channel, method and result
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttlbridge_commands_total",
			Help: "Total number of control commands handled",
		},
		[]string{"channel", "method", "result"},
	)

	// RebindGapSeconds measures how long no listener existed during reconfiguration
	RebindGapSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ttlbridge_rebind_gap_seconds",
			Help:    "Time without a bound listener while rebuilding it",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)
)

// BoolValue maps a flag to a gauge value.
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
