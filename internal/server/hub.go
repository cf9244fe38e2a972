// Package server coordinates session registration, message broadcast, and
// whisper routing for the WhisperChat system via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub is the authoritative registry of online sessions: a mapping from
// identifier to its connected session, mutated only under the hub's mutex.
// It enforces single-session-per-identifier and is the single point that
// stamps message kinds, so all observers see a consistent vocabulary.
//
// The hub's lock and the credential store's lock are never held together;
// sessions talk to the two components in sequence, never nested.
type Hub struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	metrics  *Metrics
}

// NewHub creates an empty Hub ready to register sessions. The metrics
// collector may be nil, in which case nothing is recorded.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// TryJoin atomically checks that the identifier is not already online and,
// if so, registers the session under it. It reports whether the join
// happened. The check and the insert are one non-interleavable step: of any
// number of concurrent TryJoin calls for the same identifier, at most one
// succeeds.
func (h *Hub) TryJoin(identifier string, session *Session) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, online := h.sessions[identifier]; online {
		return false
	}

	h.sessions[identifier] = session
	h.wg.Add(1)
	h.metrics.sessionJoined(len(h.sessions))
	slog.Info("session joined", "user", identifier, "conn_id", session.connID, "online", len(h.sessions))
	return true
}

// Leave removes the identifier's registration. It is a no-op when the
// identifier is not registered, or when it is registered to a different
// session than the caller's (a later login may already own it).
func (h *Hub) Leave(identifier string, session *Session) {
	h.mutex.Lock()

	current, online := h.sessions[identifier]
	if !online || current != session {
		h.mutex.Unlock()
		return
	}

	delete(h.sessions, identifier)
	session.closed = true
	remaining := len(h.sessions)
	h.mutex.Unlock()

	h.wg.Done()
	h.metrics.sessionLeft(remaining)
	slog.Info("session left", "user", identifier, "conn_id", session.connID, "online", remaining)
}

// IsOnline reports whether the identifier currently has a registered session.
func (h *Hub) IsOnline(identifier string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, online := h.sessions[identifier]
	return online
}

// OnlineCount returns the number of currently registered sessions.
func (h *Hub) OnlineCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.sessions)
}

// Broadcast delivers "<kind> <body>" to every currently registered session,
// the sender included. The registry is snapshotted under the lock and
// delivery happens outside it, so a session removed mid-fanout may still
// receive at most one stale message. Delivery is fire-and-forget: a session
// whose outbound buffer is full is treated as failed and torn down rather
// than allowed to stall the fanout.
func (h *Hub) Broadcast(kind, body string) {
	line := kind + " " + body
	h.metrics.messageRouted(kind)

	var failed []*Session
	for _, session := range h.sessionSnapshot() {
		if !h.trySend(session, line) {
			failed = append(failed, session)
		}
	}
	h.removeFailedSessions(failed)
}

// SendDirect delivers a whisper to the addressed identifier's session. It
// returns true iff that identifier is currently registered and the line was
// handed to its sink; false otherwise, with no partial side effects.
func (h *Hub) SendDirect(fromIdentifier, toIdentifier, body string) bool {
	h.mutex.RLock()
	target, online := h.sessions[toIdentifier]
	h.mutex.RUnlock()

	if !online {
		return false
	}

	line := kindPrivateFrom + " " + fromIdentifier + ": " + body
	if !h.trySend(target, line) {
		h.removeFailedSessions([]*Session{target})
		return false
	}

	h.metrics.messageRouted(kindPrivateFrom)
	return true
}

// sessionSnapshot returns the registered sessions without holding the lock
// across delivery I/O.
func (h *Hub) sessionSnapshot() []*Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// trySend attempts a non-blocking delivery to the session's sink. It holds
// the read lock for the whole attempt so the sink cannot be closed from
// under it, and reports false for sessions that are gone or whose buffer
// is full.
func (h *Hub) trySend(session *Session, line string) bool {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered from panic in trySend", "panic", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	current, online := h.sessions[session.identifier]
	if !online || current != session || session.closed {
		return false
	}

	select {
	case session.send <- line:
		return true
	default:
		return false
	}
}

// removeFailedSessions unregisters sessions that failed delivery and closes
// their streams so their own workers observe the failure and run cleanup.
func (h *Hub) removeFailedSessions(failed []*Session) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []*Session
	for _, session := range failed {
		if current, online := h.sessions[session.identifier]; online && current == session {
			delete(h.sessions, session.identifier)
			session.closed = true
			removed = append(removed, session)
			slog.Warn("session removed due to full send buffer", "user", session.identifier, "conn_id", session.connID)
		}
	}
	remaining := len(h.sessions)
	h.mutex.Unlock()

	for _, session := range removed {
		h.wg.Done()
		h.metrics.sessionLeft(remaining)
		session.closeStream()
	}
}

// Shutdown closes every registered session's stream and waits for their
// workers to deregister, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("shutting down hub", "online", h.OnlineCount())

	for _, session := range h.sessionSnapshot() {
		session.closeStream()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		slog.Warn("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
