// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/ttlbridge/internal/command"
	"firestige.xyz/ttlbridge/internal/config"
	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/engine"
	logpkg "firestige.xyz/ttlbridge/internal/log"
	"firestige.xyz/ttlbridge/internal/metrics"
	"firestige.xyz/ttlbridge/internal/node"
	"firestige.xyz/ttlbridge/internal/osc"
	"firestige.xyz/ttlbridge/internal/pipeline"
	_ "firestige.xyz/ttlbridge/plugins" // built-in sinks
)

// Daemon manages the ttlbridge daemon process lifecycle.
type Daemon struct {
	// Configuration; mu guards config across reloads.
	mu         sync.Mutex
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	node          *node.Node
	engine        *engine.Engine
	dispatcher    *pipeline.Dispatcher
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled
	watcher       *config.Watcher               // nil if the file cannot be watched

	// startPort is the port the startup bind settled on, which differs
	// from the file's port after a fallback walk.
	startPort int

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal // promoted from Run() local for cleanup in Stop()
	stopOnce     sync.Once
}

// New creates a new Daemon instance. Empty socketPath or pidFile fall back
// to the values in the config file.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	// Load global configuration
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}

	// Create context for lifecycle management
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	cfg := d.config

	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting ttlbridge daemon",
		"version", command.Version,
		"node_id", cfg.Node.ID,
		"hostname", cfg.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build sinks and the edge dispatcher
	dispatcher, err := pipeline.NewBuilder().
		WithNodeID(cfg.Node.ID).
		WithBufferSize(cfg.Engine.DispatchBuffer).
		WithSinkConfigs(cfg.Sinks).
		Build()
	if err != nil {
		d.abortStart()
		return fmt.Errorf("failed to build sinks: %w", err)
	}
	if err := dispatcher.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("failed to start sinks: %w", err)
	}
	d.dispatcher = dispatcher

	// 5. Create the node and bind the trigger listener
	n, err := node.New(node.Config{
		Settings: settingsFrom(cfg),
		Notifier: node.NotifierFunc(func(msg string) {
			slog.Warn(msg)
		}),
		Retry: osc.RetryPolicy{MaxPort: cfg.OSC.MaxPort, MaxAttempts: cfg.OSC.MaxAttempts},
	})
	if err != nil {
		d.abortStart()
		return fmt.Errorf("failed to create node: %w", err)
	}
	d.node = n

	// Non-fatal: an unbound node leaves every cycle a no-op until the
	// port is changed over the control socket.
	if err := n.Open(); err != nil {
		slog.Error("trigger listener failed to start", "error", err)
	} else {
		d.startPort = n.Settings().Port
		slog.Info("trigger server ready", "address", n.Settings().Address, "port", n.Settings().Port, "pattern", n.Settings().Pattern)
	}

	// 6. Create the engine
	eng, err := engine.New(engineConfigFrom(cfg), n, dispatcher)
	if err != nil {
		d.abortStart()
		return fmt.Errorf("failed to create engine: %w", err)
	}
	d.engine = eng
	n.SetAcquisitionStatus(eng)
	if d.metricsServer != nil {
		d.metricsServer.SetReadiness(d.readiness)
	}
	if cfg.Engine.AutoStart {
		if err := eng.Start(d.ctx); err != nil {
			d.abortStart()
			return fmt.Errorf("failed to start acquisition: %w", err)
		}
	}

	// 7. Create command handler
	d.cmdHandler = command.NewCommandHandler(d, d)

	// 8. Wire shutdown handler so daemon_shutdown command can trigger graceful stop
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 9. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	if err := d.udsServer.Listen(); err != nil {
		d.abortStart()
		return fmt.Errorf("failed to start control socket: %w", err)
	}
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 10. Start Kafka command consumer (if enabled)
	if cfg.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			// Non-fatal: daemon can still run with UDS-only control
		}
	}

	// 11. Watch the config file for edits
	w, err := config.NewWatcher(d.configPath, config.DefaultDebounce, func() {
		if err := d.Reload(); err != nil {
			slog.Error("failed to apply edited config", "error", err)
		}
	})
	if err != nil {
		slog.Warn("config file watch disabled", "error", err)
	} else {
		d.watcher = w
	}

	slog.Info("daemon started successfully")
	return nil
}

// abortStart releases what Start acquired before a fatal error.
func (d *Daemon) abortStart() {
	if d.engine != nil {
		d.engine.Stop()
	}
	if d.node != nil {
		d.node.Close()
	}
	if d.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.dispatcher.Stop(ctx)
		cancel()
	}
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.metricsServer.Stop(ctx)
		cancel()
	}
	d.cancel()
	d.removePIDFile()
}

// Stop performs graceful shutdown of all daemon components. Safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop command sources first (no new commands)
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.kafkaConsumer != nil {
		slog.Info("stopping kafka command consumer")
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		d.udsServer.Stop()
	}

	// 2. Stop acquisition, then the listener
	if d.engine != nil {
		d.engine.Stop()
	}
	if d.node != nil {
		d.node.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 3. Drain and close sinks
	if d.dispatcher != nil {
		if err := d.dispatcher.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping sinks", "error", err)
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Cancel context to signal all goroutines
	d.cancel()

	// 6. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 8. Flush logs
	logpkg.Flush()
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS/Kafka
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	// Setup signal handling
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			// Shutdown triggered by daemon_shutdown command
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			// Context cancelled externally
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the config file and applies what can change live.
// Hot: log level/format, osc address/port/pattern, pulse duration/enabled.
// Cold (requires restart): node identity, engine, sinks, metrics, control.
// Implements ConfigReloader interface for CommandHandler.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.config

	// Identity is fixed for the process lifetime; an empty id in the file
	// would otherwise come back as a fresh UUID.
	newConfig.Node.ID = old.Node.ID

	hotReloaded := []string{}
	var errs []error

	// 1. Logging
	if newConfig.Log != old.Log {
		if err := logpkg.Init(newConfig.Log); err != nil {
			errs = append(errs, fmt.Errorf("log: %w", err))
		} else {
			hotReloaded = append(hotReloaded, "log")
		}
	}

	// 2. Trigger listener and pulse settings go through the node's setters.
	// The node's live settings are the baseline: control commands may have
	// moved them away from the file since it was last read.
	if d.node != nil {
		cur := d.node.Settings()
		if newConfig.OSC.Address != cur.Address {
			if err := d.node.SetAddress(newConfig.OSC.Address); err != nil {
				errs = append(errs, err)
			} else {
				hotReloaded = append(hotReloaded, "osc.address")
			}
		}
		if d.portDrifted(newConfig.OSC.Port, old.OSC.Port, cur.Port) {
			if err := d.node.SetPort(newConfig.OSC.Port); err != nil {
				errs = append(errs, err)
			} else {
				hotReloaded = append(hotReloaded, "osc.port")
			}
		}
		if newConfig.OSC.Pattern != cur.Pattern {
			if err := d.node.SetPattern(newConfig.OSC.Pattern); err != nil {
				errs = append(errs, err)
			} else {
				hotReloaded = append(hotReloaded, "osc.pattern")
			}
		}
		if newConfig.Pulse.DurationMs != cur.DurationMs {
			if err := d.node.SetDuration(newConfig.Pulse.DurationMs); err != nil {
				errs = append(errs, err)
			} else {
				hotReloaded = append(hotReloaded, "pulse.duration_ms")
			}
		}
		if newConfig.Pulse.Enabled != cur.Enabled {
			d.node.SetEnabled(newConfig.Pulse.Enabled)
			hotReloaded = append(hotReloaded, "pulse.enabled")
		}
	}

	// 3. Warn about cold-reload items that changed
	requiresRestart := []string{}
	if newConfig.Node.Hostname != old.Node.Hostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Engine.CyclePeriod != old.Engine.CyclePeriod ||
		newConfig.Engine.DispatchBuffer != old.Engine.DispatchBuffer ||
		!sameStreams(newConfig.Engine.Streams, old.Engine.Streams) {
		requiresRestart = append(requiresRestart, "engine")
	}
	if len(newConfig.Sinks) != len(old.Sinks) {
		requiresRestart = append(requiresRestart, "sinks")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if newConfig.Control.Socket != old.Control.Socket || newConfig.Control.PIDFile != old.Control.PIDFile {
		requiresRestart = append(requiresRestart, "control")
	}

	d.config = newConfig

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)

	return errors.Join(errs...)
}

// TriggerShutdown triggers graceful shutdown from external caller (e.g., daemon_shutdown command).
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
		// Shutdown signal sent
	default:
		// Already pending, no-op
	}
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.GlobalConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// ─── command.Bridge ───

// StatusReport is the daemon_status payload.
type StatusReport struct {
	NodeID     string         `json:"node_id" yaml:"node_id"`
	Hostname   string         `json:"hostname" yaml:"hostname"`
	Node       node.Status    `json:"node" yaml:"node"`
	Engine     engine.Stats   `json:"engine" yaml:"engine"`
	Dispatcher pipeline.Stats `json:"dispatcher" yaml:"dispatcher"`
	Sinks      []string       `json:"sinks" yaml:"sinks"`
}

// Status implements command.Bridge.
func (d *Daemon) Status() any {
	cfg := d.Config()
	r := StatusReport{
		NodeID:   cfg.Node.ID,
		Hostname: cfg.Node.Hostname,
		Sinks:    make([]string, 0, len(cfg.Sinks)),
	}
	for _, s := range cfg.Sinks {
		r.Sinks = append(r.Sinks, s.Type)
	}
	if d.node != nil {
		r.Node = d.node.Status()
	}
	if d.engine != nil {
		r.Engine = d.engine.Stats()
	}
	if d.dispatcher != nil {
		r.Dispatcher = d.dispatcher.Stats()
	}
	return r
}

// SetEnabled implements command.Bridge.
func (d *Daemon) SetEnabled(enabled bool) {
	d.node.SetEnabled(enabled)
}

// SetOSC implements command.Bridge. Fields are applied in order address,
// port, pattern; the first failure stops the sequence.
func (d *Daemon) SetOSC(p command.OSCSetParams) error {
	if p.Address != nil {
		if err := d.node.SetAddress(*p.Address); err != nil {
			return err
		}
	}
	if p.Port != nil {
		if err := d.node.SetPort(*p.Port); err != nil {
			return err
		}
	}
	if p.Pattern != nil {
		if err := d.node.SetPattern(*p.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// SetDuration implements command.Bridge.
func (d *Daemon) SetDuration(ms int) error {
	return d.node.SetDuration(ms)
}

// StartAcquisition implements command.Bridge. Starting twice is not an error.
func (d *Daemon) StartAcquisition() error {
	if err := d.engine.Start(d.ctx); err != nil && !errors.Is(err, engine.ErrRunning) {
		return err
	}
	return nil
}

// StopAcquisition implements command.Bridge.
func (d *Daemon) StopAcquisition() error {
	d.engine.Stop()
	return nil
}

// InjectTrigger implements command.Bridge.
func (d *Daemon) InjectTrigger(line int, state bool) error {
	msg, err := core.NewTriggerMessage(line, state)
	if err != nil {
		return err
	}
	if !d.engine.IsAcquiring() {
		return fmt.Errorf("not acquiring: trigger would be discarded")
	}
	d.node.ReceiveMessage(msg)
	return nil
}

// ─── helpers ───

func settingsFrom(cfg *config.GlobalConfig) node.Settings {
	return node.Settings{
		Address:    cfg.OSC.Address,
		Port:       cfg.OSC.Port,
		Pattern:    cfg.OSC.Pattern,
		DurationMs: cfg.Pulse.DurationMs,
		Enabled:    cfg.Pulse.Enabled,
	}
}

func engineConfigFrom(cfg *config.GlobalConfig) engine.Config {
	ec := engine.Config{CyclePeriod: cfg.Engine.CyclePeriodDuration()}
	for _, s := range cfg.Engine.Streams {
		ec.Streams = append(ec.Streams, engine.StreamConfig{ID: core.StreamID(s.ID), SampleRate: s.SampleRate})
	}
	return ec
}

func sameStreams(a, b []config.StreamConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)

	return nil
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.Control.Kafka,
		command.Targets{NodeID: d.config.Node.ID, Hostname: d.config.Node.Hostname},
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	d.kafkaConsumer = consumer

	// Start consumer in background goroutine
	go func() {
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()

	return nil
}

// portDrifted reports whether a reload must rebind. An unchanged file port
// still served by the startup fallback port is in sync.
func (d *Daemon) portDrifted(want, filePort, cur int) bool {
	if want == cur {
		return false
	}
	return want != filePort || cur != d.startPort
}

// readiness backs /readyz: triggers are only taken while the listener is
// bound and acquisition is running.
func (d *Daemon) readiness() error {
	st := d.node.Status()
	switch {
	case !st.Bound:
		if st.LastWarning != "" {
			return errors.New(st.LastWarning)
		}
		return errors.New("trigger listener not bound")
	case !d.engine.IsAcquiring():
		return errors.New("acquisition stopped")
	}
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	return nil
}

// writePIDFile writes the current process ID to the PID file. A file
// naming a live process means another daemon is running.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if pid, err := ReadPIDFile(d.pidFile); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("daemon already running with pid %d (%s)", pid, d.pidFile)
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
