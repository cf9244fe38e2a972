// Package server runs the TCP accept loop that feeds connections into the
// session machine through a bounded worker pool.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ChatServer accepts TCP chat connections and dispatches one worker per
// connection. The pool is bounded by MaxConnections; the configured
// overflow policy decides whether a saturated pool blocks the accept loop
// or rejects the connection with a busy error.
type ChatServer struct {
	hub   *Hub
	store *CredentialStore

	addr           string
	maxMessageSize int64
	policy         OverflowPolicy

	slots    chan struct{}
	listener net.Listener
	mu       sync.Mutex
	active   map[*Session]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChatServer creates a chat server bound to the hub and credential store.
// Connection limits and addresses come from the active configuration.
func NewChatServer(hub *Hub, store *CredentialStore) *ChatServer {
	cfg := currentConfig()
	ctx, cancel := context.WithCancel(context.Background())

	return &ChatServer{
		hub:            hub,
		store:          store,
		addr:           cfg.ChatAddr,
		maxMessageSize: cfg.MaxMessageSize,
		policy:         cfg.OverflowPolicy,
		slots:          make(chan struct{}, cfg.MaxConnections),
		active:         make(map[*Session]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ListenAndServe starts accepting connections and blocks until the listener
// closes. It returns nil after a graceful shutdown.
func (s *ChatServer) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("chat server listening", "addr", listener.Addr().String(), "overflow_policy", string(s.policy))
	return s.acceptLoop(listener)
}

// Addr returns the listener's address, or empty before ListenAndServe.
func (s *ChatServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *ChatServer) acceptLoop(listener net.Listener) error {
	for {
		if s.policy == OverflowBlock {
			// Hold the accept loop until a worker slot frees up.
			select {
			case s.slots <- struct{}{}:
			case <-s.ctx.Done():
				return nil
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.policy == OverflowBlock {
				<-s.slots
			}
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if s.policy == OverflowReject {
			select {
			case s.slots <- struct{}{}:
			default:
				s.rejectConnection(conn)
				continue
			}
		}

		s.wg.Add(1)
		go s.serveConnection(conn)
	}
}

// rejectConnection tells an overflow connection the server is saturated and
// closes it without dispatching a worker.
func (s *ChatServer) rejectConnection(conn net.Conn) {
	slog.Warn("rejecting connection, worker pool saturated", "remote", conn.RemoteAddr().String())

	stream := NewTCPLineStream(conn, s.maxMessageSize)
	_ = stream.WriteLine(FrameLine(replyError + " server busy, try again later"))
	if err := stream.Close(); err != nil && !isExpectedCloseError(err) {
		slog.Warn("error closing rejected connection", "error", err)
	}
}

// serveConnection runs one session to completion and releases its slot.
func (s *ChatServer) serveConnection(conn net.Conn) {
	stream := NewTCPLineStream(conn, s.maxMessageSize)
	session := NewSession(stream, s.hub, s.store)

	s.mu.Lock()
	s.active[session] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, session)
		s.mu.Unlock()
		<-s.slots
		s.wg.Done()
	}()

	session.Run()
}

// Shutdown closes the listener, stops accepting, and waits for in-flight
// session workers to finish or until the timeout is reached.
func (s *ChatServer) Shutdown(timeout time.Duration) error {
	slog.Info("shutting down chat server")
	s.cancel()

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("error closing listener", "error", err)
		}
	}

	// Unblock every worker still reading, authenticated or not.
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.active))
	for session := range s.active {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()
	for _, session := range sessions {
		session.closeStream()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("chat server shutdown completed")
		return nil
	case <-time.After(timeout):
		slog.Warn("chat server shutdown timeout reached, some workers may still be running")
		return context.DeadlineExceeded
	}
}
