package osc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/metrics"
)

const (
	maxDatagramSize = 65535
	readBatchSize   = 16
)

// Receiver accepts triggers decoded by a Listener.
type Receiver interface {
	ReceiveMessage(msg core.TriggerMessage)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(msg core.TriggerMessage)

// ReceiveMessage calls f(msg).
func (f ReceiverFunc) ReceiveMessage(msg core.TriggerMessage) { f(msg) }

// Listener owns one bound UDP socket and a goroutine reading from it.
type Listener struct {
	id      string
	address string
	port    int
	pattern string
	recv    Receiver

	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	bindErr error

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewListener binds address:port. A bind failure does not return an error;
// the listener is left unbound and Err reports a *core.BindError.
func NewListener(address string, port int, pattern string, recv Receiver) *Listener {
	l := &Listener{
		id:      uuid.NewString(),
		address: address,
		port:    port,
		pattern: pattern,
		recv:    recv,
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(port)))
	if err == nil {
		l.conn, err = net.ListenUDP("udp4", udpAddr)
	}
	if err != nil {
		l.bindErr = &core.BindError{Address: address, Port: port, Err: err}
		return l
	}

	l.port = l.conn.LocalAddr().(*net.UDPAddr).Port
	l.pc = ipv4.NewPacketConn(l.conn)
	return l
}

// IsBound reports whether the socket was bound.
func (l *Listener) IsBound() bool { return l.conn != nil }

// Err returns the bind error, if any.
func (l *Listener) Err() error { return l.bindErr }

// Port returns the bound port (the requested one when unbound).
func (l *Listener) Port() int { return l.port }

// Address returns the bind address.
func (l *Listener) Address() string { return l.address }

// Pattern returns the accepted OSC address.
func (l *Listener) Pattern() string { return l.pattern }

// ID identifies this listener instance in logs.
func (l *Listener) ID() string { return l.id }

// Start launches the receive loop. It does nothing on an unbound,
// already started or stopped listener.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.IsBound() || l.started || l.stopped {
		return
	}
	l.started = true

	l.wg.Add(1)
	go l.receiveLoop()

	slog.Info("osc listener started", "listener_id", l.id, "address", l.address, "port", l.port, "pattern", l.pattern)
}

// Stop closes the socket, which unblocks the read, and waits for the
// receive goroutine to exit. Safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()

	if l.IsBound() {
		slog.Info("osc listener stopped", "listener_id", l.id, "port", l.port)
	}
}

func (l *Listener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Listener) receiveLoop() {
	defer l.wg.Done()

	msgs := make([]ipv4.Message, readBatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagramSize)}
	}
	portLabel := strconv.Itoa(l.port)

	for {
		n, err := l.pc.ReadBatch(msgs, 0)
		if err != nil {
			if l.isStopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("osc read failed", "listener_id", l.id, "error", err)
			continue
		}

		metrics.PacketsReceivedTotal.WithLabelValues(portLabel).Add(float64(n))
		for i := 0; i < n; i++ {
			l.handlePacket(msgs[i].Buffers[0][:msgs[i].N], msgs[i].Addr)
		}
	}
}

// handlePacket never lets a failure escape; one bad packet must not end
// the loop.
func (l *Listener) handlePacket(data []byte, src net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TriggersTotal.WithLabelValues(metrics.TriggerDecodeError).Inc()
			slog.Warn("osc packet handling panicked", "listener_id", l.id, "src", addrString(src), "panic", fmt.Sprint(r))
		}
	}()

	outcomes, err := Parse(data, l.pattern)
	if err != nil {
		metrics.TriggersTotal.WithLabelValues(metrics.TriggerDecodeError).Inc()
		slog.Warn("osc packet dropped", "listener_id", l.id, "src", addrString(src), "error", err)
		return
	}

	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			l.recv.ReceiveMessage(o.Trigger)
		case errors.Is(o.Err, ErrAddressMismatch):
			metrics.TriggersTotal.WithLabelValues(metrics.TriggerPatternMismatch).Inc()
		case errors.Is(o.Err, core.ErrInvalidTrigger):
			metrics.TriggersTotal.WithLabelValues(metrics.TriggerFiltered).Inc()
		default:
			metrics.TriggersTotal.WithLabelValues(metrics.TriggerDecodeError).Inc()
			slog.Warn("osc message dropped", "listener_id", l.id, "address", o.Address, "error", o.Err)
		}
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
