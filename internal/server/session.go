// Package server manages individual client sessions, driving each
// connection through authentication and then chat, with a buffered write
// pump and rate limiting per connection.
package server

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// sessionPhase is the state of a connection's state machine. Transitions
// only move forward: unauthenticated, then authenticated, then closed.
type sessionPhase int

const (
	phaseUnauthenticated sessionPhase = iota
	phaseAuthenticated
	phaseClosed
)

// Session is the per-connection state machine. Its worker goroutine owns
// the read side of the stream and the phase field; the write pump drains
// the send channel so deliveries from other sessions' workers never write
// to the stream directly.
type Session struct {
	stream LineStream
	hub    *Hub
	store  *CredentialStore

	connID string
	send   chan string

	// phase and identifier are only touched by the session's own worker.
	phase      sessionPhase
	identifier string

	// closed is guarded by the hub's mutex for the whole registered
	// lifetime; trySend reads it to avoid a send on a closing sink.
	closed bool

	sendOnce  sync.Once
	closeOnce sync.Once

	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
}

// NewSession creates a session over the given line stream. The session is
// unauthenticated until a successful LOGIN registers it with the hub.
func NewSession(stream LineStream, hub *Hub, store *CredentialStore) *Session {
	cfg := currentConfig()
	return &Session{
		stream:      stream,
		hub:         hub,
		store:       store,
		connID:      uuid.NewString(),
		send:        make(chan string, 256),
		phase:       phaseUnauthenticated,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:   cfg.RateLimit,
	}
}

// Run executes the session to completion: the authentication gate, then the
// chat loop, then cleanup. It blocks until the connection terminates, so
// callers dispatch it on the connection's worker.
func (s *Session) Run() {
	slog.Info("connection opened", "conn_id", s.connID, "remote", s.stream.RemoteAddr())

	go s.writePump()
	defer s.cleanup()

	if !s.authLoop() {
		return
	}

	s.hub.Broadcast(kindSystem, s.identifier+" joined the chat")
	s.chatLoop()
}

// authLoop gates the connection until a LOGIN succeeds. It accepts LOGIN,
// REGISTER, and CHECK_ID; anything else earns an error reply and leaves the
// state unchanged. It returns false when the connection fails before an
// identifier is bound.
func (s *Session) authLoop() bool {
	for {
		line, err := s.stream.ReadLine()
		if err != nil {
			slog.Info("connection closed before login", "conn_id", s.connID, "error", err)
			return false
		}

		command, rest := ParseCommand(StripFrame(line))
		switch command {
		case cmdLogin:
			if s.handleLogin(rest) {
				return true
			}
		case cmdRegister:
			s.handleRegister(rest)
		case cmdCheckID:
			s.handleCheckID(rest)
		default:
			s.reply(replyError + " please log in first")
		}
	}
}

// handleLogin verifies credentials and then attempts the atomic
// check-and-join. Binding the identifier only happens when both succeed;
// a correct password for an identifier that is already online fails with a
// distinct reason.
func (s *Session) handleLogin(rest string) bool {
	args := strings.Fields(rest)
	if len(args) < 2 {
		s.reply(replyError + " usage: LOGIN <id> <password>")
		return false
	}

	identifier, password := args[0], args[1]

	if !s.store.Authenticate(identifier, password) {
		s.hub.metrics.authFailed("bad_credentials")
		s.reply(replyLoginFail + " invalid identifier or password")
		return false
	}

	s.identifier = identifier
	if !s.hub.TryJoin(identifier, s) {
		s.identifier = ""
		s.hub.metrics.authFailed("duplicate_session")
		s.reply(replyLoginFail + " this identifier is already logged in")
		return false
	}

	s.phase = phaseAuthenticated
	s.reply(replyLoginSuccess + " " + s.store.DisplayNameOf(identifier))
	return true
}

// handleRegister validates the submitted fields and delegates to the
// credential store. Registration never changes the session's phase.
func (s *Session) handleRegister(rest string) {
	args := strings.Fields(rest)
	if len(args) < 4 {
		s.reply(replyRegisterFail + " usage: REGISTER <id> <password> <name> <email>")
		return
	}

	identifier, password, displayName, email := args[0], args[1], args[2], args[3]
	for _, field := range []string{identifier, password, displayName, email} {
		if !ValidateField(field) {
			s.reply(replyRegisterFail + " fields must not contain " + fieldDelimiter)
			return
		}
	}

	switch err := s.store.Register(identifier, password, displayName, email); {
	case err == nil:
		s.reply(replyRegisterSuccess)
	case errors.Is(err, ErrIdentifierTaken):
		s.reply(replyRegisterFail + " identifier already exists")
	default:
		slog.Error("registration failed", "conn_id", s.connID, "user", identifier, "error", err)
		s.reply(replyRegisterFail + " registration failed")
	}
}

// handleCheckID reports identifier availability without side effects.
func (s *Session) handleCheckID(rest string) {
	identifier := strings.TrimSpace(rest)
	if identifier == "" {
		s.reply(replyError + " usage: CHECK_ID <id>")
		return
	}

	if s.store.Exists(identifier) {
		s.reply(replyIDTaken)
	} else {
		s.reply(replyIDOK)
	}
}

// chatLoop processes lines from an authenticated session until a quit
// directive or an I/O failure ends the connection.
func (s *Session) chatLoop() {
	for {
		line, err := s.stream.ReadLine()
		if err != nil {
			slog.Info("connection closed", "conn_id", s.connID, "user", s.identifier, "error", err)
			return
		}

		payload := StripFrame(line)
		if payload == "" {
			continue
		}
		if payload == cmdQuit || strings.HasPrefix(payload, cmdQuit+" ") {
			return
		}

		if !s.rateLimiter.allow() {
			slog.Warn("rate limit exceeded, discarding message", "conn_id", s.connID, "user", s.identifier,
				"burst", s.rateLimit.Burst, "refill_interval", s.rateLimit.RefillInterval)
			s.reply(replyError + " sending too fast, message discarded")
			continue
		}

		if command, rest := ParseCommand(payload); command == cmdWhisper {
			s.handleWhisper(rest)
			continue
		}

		s.hub.Broadcast(kindMessage, s.identifier+": "+payload)
	}
}

// handleWhisper routes a direct message and reports the delivery outcome to
// the sender. A missing target affects nobody but the sender.
func (s *Session) handleWhisper(rest string) {
	target, message, ok := strings.Cut(rest, " ")
	if !ok || target == "" || message == "" {
		s.reply(replyError + " usage: WHISPER <id> <message>")
		return
	}

	if s.hub.SendDirect(s.identifier, target, message) {
		s.reply(replyPrivateSent + " To [" + target + "]: " + message)
	} else {
		s.reply(replyError + " [" + target + "] is not online")
	}
}

// cleanup runs exactly once when the session terminates, on every exit
// path. A session that reached the authenticated phase deregisters from the
// hub first and broadcasts the departure second; a connection that never
// authenticated leaves no trace.
func (s *Session) cleanup() {
	wasAuthenticated := s.phase == phaseAuthenticated
	s.phase = phaseClosed

	if wasAuthenticated {
		s.hub.Leave(s.identifier, s)
		s.hub.Broadcast(kindSystem, s.identifier+" left the chat")
	}

	s.closeSend()
	s.closeStream()
	slog.Info("connection finished", "conn_id", s.connID)
}

// reply queues a line for this session's own client. Replies share the sink
// with routed deliveries, so a single client observes its replies and
// incoming messages in a consistent order.
func (s *Session) reply(payload string) {
	select {
	case s.send <- payload:
	default:
		slog.Warn("dropping reply, send buffer full", "conn_id", s.connID)
	}
}

// writePump drains the send channel onto the stream, framing every line.
// It exits when the sink closes or a write fails; a failed write closes the
// stream so the read side observes the failure.
func (s *Session) writePump() {
	for line := range s.send {
		if err := s.stream.WriteLine(FrameLine(line)); err != nil {
			if !isExpectedCloseError(err) {
				slog.Warn("write failed", "conn_id", s.connID, "error", err)
			}
			s.closeStream()
			return
		}
	}
	s.closeStream()
}

// closeSend closes the sink exactly once.
func (s *Session) closeSend() {
	s.sendOnce.Do(func() {
		close(s.send)
	})
}

// closeStream closes the underlying stream exactly once, unblocking any
// pending read.
func (s *Session) closeStream() {
	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing stream", "conn_id", s.connID, "error", err)
		}
	})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
