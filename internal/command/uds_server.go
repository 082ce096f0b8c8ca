package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/ttlbridge/internal/metrics"
)

// ErrSocketInUse is returned by Listen when another daemon answers on the
// control socket.
var ErrSocketInUse = errors.New("ttlbridge: control socket in use")

// maxRequestBytes bounds one request line; the largest bridge request is
// an osc_set with three short fields.
const maxRequestBytes = 64 << 10

// UDSServer serves the bridge control methods as line-delimited JSON-RPC
// over a Unix domain socket, one session per connection.
type UDSServer struct {
	socketPath string
	handler    *CommandHandler

	mu       sync.Mutex
	listener net.Listener
	sessions map[uint64]net.Conn
	stopped  bool

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

// NewUDSServer creates a new UDS server.
func NewUDSServer(socketPath string, handler *CommandHandler) *UDSServer {
	return &UDSServer{
		socketPath: socketPath,
		handler:    handler,
		sessions:   make(map[uint64]net.Conn),
	}
}

// Start serves until ctx is done, then stops. It calls Listen if the
// socket does not exist yet.
func (s *UDSServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	go s.acceptLoop(ctx)

	<-ctx.Done()
	slog.Info("control socket closing", "socket", s.socketPath, "reason", ctx.Err())
	return s.Stop()
}

// Listen creates the socket without serving it, so the daemon can fail
// fast before reporting itself started. A leftover socket file from a
// crashed daemon is replaced; a live one is not.
func (s *UDSServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	if err := s.clearStaleSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.listener = ln

	slog.Info("control socket ready", "socket", s.socketPath)
	return nil
}

func (s *UDSServer) clearStaleSocket() error {
	if _, err := os.Stat(s.socketPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if conn, err := net.DialTimeout("unix", s.socketPath, 200*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, s.socketPath)
	}
	slog.Warn("removing stale control socket", "socket", s.socketPath)
	if err := os.Remove(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

func (s *UDSServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isStopped() {
				return
			}
			slog.Error("control socket accept failed", "error", err)
			continue
		}

		id := s.nextID.Add(1)
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[id] = conn
		s.wg.Add(1)
		s.mu.Unlock()

		go s.session(ctx, id, conn)
	}
}

func (s *UDSServer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// session answers requests on one connection until the peer hangs up.
func (s *UDSServer) session(ctx context.Context, id uint64, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		conn.Close()
	}()

	log := slog.With("session", id)
	log.Debug("control session opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		out := s.answer(ctx, scanner.Bytes())
		if err := enc.Encode(out); err != nil {
			log.Warn("control session write failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !s.isStopped() {
		log.Warn("control session read failed", "error", err)
	}
	log.Debug("control session closed")
}

// answer decodes one request line and produces its response envelope.
func (s *UDSServer) answer(ctx context.Context, line []byte) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		countCommand(metrics.ChannelUDS, "", resultLabel(&ErrorInfo{Code: ErrCodeParseError}))
		return reply(nil, Response{Error: &ErrorInfo{Code: ErrCodeParseError, Message: fmt.Sprintf("parse error: %v", err)}})
	}
	cmd, bad := req.command()
	if bad != nil {
		countCommand(metrics.ChannelUDS, req.Method, resultLabel(bad))
		return reply(req.ID, Response{Error: bad})
	}
	return reply(req.ID, serve(ctx, s.handler, metrics.ChannelUDS, cmd))
}

// Stop closes the listener and every open session, waits for the session
// goroutines, and removes the socket file. Safe to call more than once.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln := s.listener
	for _, conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove control socket", "socket", s.socketPath, "error", err)
	}
	slog.Info("control socket closed", "socket", s.socketPath)
	return nil
}
