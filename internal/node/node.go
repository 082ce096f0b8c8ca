// Package node owns one trigger bridge: the OSC listener, the shared
// trigger state and the pulse scheduler, plus the settings that drive them.
package node

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/metrics"
	"firestige.xyz/ttlbridge/internal/osc"
	"firestige.xyz/ttlbridge/internal/scheduler"
	"firestige.xyz/ttlbridge/internal/trigger"
)

// Settings is the configuration surface of a node.
type Settings struct {
	Address    string `json:"address" yaml:"address"`
	Port       int    `json:"port" yaml:"port"`
	Pattern    string `json:"pattern" yaml:"pattern"`
	DurationMs int    `json:"duration_ms" yaml:"duration_ms"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// DefaultSettings returns the factory defaults.
func DefaultSettings() Settings {
	return Settings{
		Address:    core.DefaultAddress,
		Port:       core.DefaultPort,
		Pattern:    core.DefaultPattern,
		DurationMs: core.DefaultDurationMs,
		Enabled:    true,
	}
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	if err := validatePort(s.Port); err != nil {
		return err
	}
	if err := validateAddress(s.Address); err != nil {
		return err
	}
	if err := validatePattern(s.Pattern); err != nil {
		return err
	}
	return validateDuration(s.DurationMs)
}

// Notifier delivers user-visible warnings.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg string)

// Notify calls f(msg).
func (f NotifierFunc) Notify(msg string) { f(msg) }

// AcquisitionStatus reports whether the processing loop is live.
type AcquisitionStatus interface {
	IsAcquiring() bool
}

// Config holds node construction parameters.
type Config struct {
	Settings Settings
	Notifier Notifier
	Retry    osc.RetryPolicy
}

// Status is a point-in-time view of the node.
type Status struct {
	Settings
	Bound       bool   `json:"bound"`
	ListenerID  string `json:"listener_id,omitempty"`
	QueueDepth  int    `json:"queue_depth"`
	PendingOffs int    `json:"pending_offs"`
	Acquiring   bool   `json:"acquiring"`
	LastWarning string `json:"last_warning,omitempty"`
}

type acquisitionRef struct {
	status AcquisitionStatus
}

// Node wires listener, shared state and scheduler together.
//
// Control-plane methods (Open, Set*, Close) serialize on mu. The cycle
// path (Process) and the listener path (ReceiveMessage) only touch atomics
// and the shared trigger state.
type Node struct {
	mu          sync.Mutex
	settings    Settings
	listener    *osc.Listener
	retry       osc.RetryPolicy
	notifier    Notifier
	lastWarning string

	state *trigger.Shared
	sched *scheduler.Scheduler

	durationMs  atomic.Int64
	enabled     atomic.Bool
	bound       atomic.Bool
	acquisition atomic.Pointer[acquisitionRef]
}

// New creates a node. No socket is bound until Open.
func New(cfg Config) (*Node, error) {
	s := cfg.Settings
	if s.Address == "" {
		s.Address = core.DefaultAddress
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	state := trigger.NewShared()
	n := &Node{
		settings: s,
		retry:    cfg.Retry,
		notifier: cfg.Notifier,
		state:    state,
		sched:    scheduler.New(state),
	}
	n.durationMs.Store(int64(s.DurationMs))
	n.enabled.Store(s.Enabled)
	return n, nil
}

// SetAcquisitionStatus installs the collaborator queried by ReceiveMessage.
// Until one is set the node behaves as if not acquiring.
func (n *Node) SetAcquisitionStatus(a AcquisitionStatus) {
	n.acquisition.Store(&acquisitionRef{status: a})
}

func (n *Node) isAcquiring() bool {
	ref := n.acquisition.Load()
	return ref != nil && ref.status != nil && ref.status.IsAcquiring()
}

// Open binds the listener on the configured port, walking upward past
// ports in use. The effective port is published back to the settings.
func (n *Node) Open() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.teardownLocked()

	l, err := osc.BindWithRetry(n.settings.Address, n.settings.Port, n.settings.Pattern, n, n.retry)
	if err != nil {
		n.warnLocked(fmt.Sprintf("Unable to bind to any port starting at %d", n.settings.Port))
		return fmt.Errorf("failed to open listener: %w", err)
	}
	if l.Port() != n.settings.Port {
		slog.Info("published effective port", "requested", n.settings.Port, "port", l.Port())
		n.settings.Port = l.Port()
	}
	n.installLocked(l)
	return nil
}

// SetPort rebinds on a new port with a single attempt.
func (n *Node) SetPort(port int) error {
	if err := validatePort(port); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if port == n.settings.Port && n.listener != nil {
		return nil
	}
	n.settings.Port = port
	return n.rebindLocked()
}

// SetAddress rebinds on a new bind address with a single attempt.
func (n *Node) SetAddress(address string) error {
	if address == "" {
		address = core.DefaultAddress
	}
	if err := validateAddress(address); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if address == n.settings.Address && n.listener != nil {
		return nil
	}
	n.settings.Address = address
	return n.rebindLocked()
}

// SetPattern changes the accepted OSC address. Patterns that differ only
// in case are considered equal.
func (n *Node) SetPattern(pattern string) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if strings.EqualFold(pattern, n.settings.Pattern) && n.listener != nil {
		return nil
	}
	n.settings.Pattern = pattern
	return n.rebindLocked()
}

// SetDuration sets the pulse duration; 0 passes the literal state through.
func (n *Node) SetDuration(ms int) error {
	if err := validateDuration(ms); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settings.DurationMs = ms
	n.durationMs.Store(int64(ms))
	return nil
}

// SetEnabled toggles stimulation. While disabled, cycles leave the queue
// untouched.
func (n *Node) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settings.Enabled = enabled
	n.enabled.Store(enabled)
	slog.Info("stimulation toggled", "enabled", enabled)
}

// ReceiveMessage queues msg if acquisition is live.
func (n *Node) ReceiveMessage(msg core.TriggerMessage) {
	if !n.isAcquiring() {
		metrics.TriggersTotal.WithLabelValues(metrics.TriggerNotAcquiring).Inc()
		return
	}
	n.state.Push(msg)
	metrics.TriggersTotal.WithLabelValues(metrics.TriggerAccepted).Inc()
	slog.Debug("trigger queued", "line", msg.Line(), "state", msg.State())
}

// StartAcquisition clears queued triggers and pending off edges.
func (n *Node) StartAcquisition() {
	n.state.Reset()
	metrics.QueueDepth.Set(0)
}

// Process runs one scheduling cycle against h.
func (n *Node) Process(h scheduler.Host) scheduler.CycleStats {
	began := time.Now()
	st := n.sched.Process(h, scheduler.Params{
		DurationMs: int(n.durationMs.Load()),
		Enabled:    n.enabled.Load(),
		Bound:      n.bound.Load(),
	})

	metrics.CyclesTotal.Inc()
	metrics.CycleLatencySeconds.Observe(time.Since(began).Seconds())
	if st.Deferred > 0 {
		metrics.OffDeferredTotal.Add(float64(st.Deferred))
	}
	metrics.QueueDepth.Set(float64(n.state.Count()))
	return st
}

// Settings returns the current settings, including the effective port.
func (n *Node) Settings() Settings {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settings
}

// Status returns a snapshot for status reports.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := Status{
		Settings:    n.settings,
		Bound:       n.bound.Load(),
		QueueDepth:  n.state.Count(),
		PendingOffs: n.state.PendingCount(),
		Acquiring:   n.isAcquiring(),
		LastWarning: n.lastWarning,
	}
	if n.listener != nil {
		st.ListenerID = n.listener.ID()
	}
	return st
}

// Close stops the listener and waits for its goroutine.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.teardownLocked()
}

// rebindLocked replaces the listener using the single-attempt policy.
func (n *Node) rebindLocked() error {
	began := time.Now()
	n.teardownLocked()

	l, err := osc.BindOnce(n.settings.Address, n.settings.Port, n.settings.Pattern, n)
	gap := time.Since(began)
	metrics.RebindGapSeconds.Observe(gap.Seconds())

	if err != nil {
		n.warnLocked(fmt.Sprintf("Unable to bind to port %d", n.settings.Port))
		slog.Warn("listener rebuild failed", "port", n.settings.Port, "gap", gap, "error", err)
		return err
	}
	n.installLocked(l)
	slog.Info("listener rebuilt", "port", l.Port(), "pattern", l.Pattern(), "gap", gap)
	return nil
}

func (n *Node) installLocked(l *osc.Listener) {
	n.listener = l
	n.bound.Store(true)
	n.lastWarning = ""
	metrics.ListenerBound.Set(1)
	metrics.ListenerPort.Set(float64(l.Port()))
}

func (n *Node) teardownLocked() {
	if n.listener == nil {
		return
	}
	n.bound.Store(false)
	metrics.ListenerBound.Set(0)
	n.listener.Stop()
	n.listener = nil
}

func (n *Node) warnLocked(msg string) {
	n.lastWarning = msg
	if n.notifier != nil {
		n.notifier.Notify(msg)
	}
}

func validatePort(port int) error {
	if port < core.MinPort || port > core.MaxPort {
		return fmt.Errorf("%w: port %d outside [%d, %d]", core.ErrConfigInvalid, port, core.MinPort, core.MaxPort)
	}
	return nil
}

func validateAddress(address string) error {
	if address == "" {
		return nil
	}
	if ip := net.ParseIP(address); ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: bind address %q is not an IPv4 address", core.ErrConfigInvalid, address)
	}
	return nil
}

func validatePattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("%w: address pattern %q must start with '/'", core.ErrConfigInvalid, pattern)
	}
	return nil
}

func validateDuration(ms int) error {
	if ms < 0 || ms > core.MaxPulseDurationMs {
		return fmt.Errorf("%w: pulse duration %dms outside [0, %d]", core.ErrConfigInvalid, ms, core.MaxPulseDurationMs)
	}
	return nil
}
