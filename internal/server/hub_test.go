package server

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// newIdleSession builds a session that is never run; tests read deliveries
// straight from its sink.
func newIdleSession(t *testing.T, hub *Hub) *Session {
	t.Helper()
	store := NewCredentialStore(t.TempDir() + "/users.dat")
	return NewSession(newFakeStream(), hub, store)
}

func receiveLine(t *testing.T, s *Session) string {
	t.Helper()
	select {
	case line := <-s.send:
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

// TestTryJoinAtomicity verifies that of many concurrent TryJoin calls for
// the same identifier, exactly one succeeds and the registry holds that
// identifier exactly once.
func TestTryJoinAtomicity(t *testing.T) {
	hub := NewHub(nil)

	const contenders = 16
	var wg sync.WaitGroup
	successes := make(chan *Session, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := newIdleSession(t, hub)
			session.identifier = "alice"
			if hub.TryJoin("alice", session) {
				successes <- session
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("%d TryJoin calls succeeded, want exactly 1", count)
	}
	if !hub.IsOnline("alice") {
		t.Error("alice not online after successful TryJoin")
	}
	if got := hub.OnlineCount(); got != 1 {
		t.Errorf("OnlineCount() = %d, want 1", got)
	}
}

// TestTryJoinAfterLeave verifies the identifier becomes joinable again once
// its session leaves.
func TestTryJoinAfterLeave(t *testing.T) {
	hub := NewHub(nil)

	first := newIdleSession(t, hub)
	first.identifier = "alice"
	if !hub.TryJoin("alice", first) {
		t.Fatal("first TryJoin failed")
	}

	second := newIdleSession(t, hub)
	second.identifier = "alice"
	if hub.TryJoin("alice", second) {
		t.Fatal("TryJoin succeeded while identifier still online")
	}

	hub.Leave("alice", first)
	if hub.IsOnline("alice") {
		t.Error("alice still online after Leave")
	}

	if !hub.TryJoin("alice", second) {
		t.Error("TryJoin failed after identifier left")
	}
}

// TestLeaveAbsentIsNoOp verifies that leaving an unregistered identifier
// neither errors nor disturbs the registry.
func TestLeaveAbsentIsNoOp(t *testing.T) {
	hub := NewHub(nil)

	session := newIdleSession(t, hub)
	session.identifier = "ghost"
	hub.Leave("ghost", session)

	if got := hub.OnlineCount(); got != 0 {
		t.Errorf("OnlineCount() = %d, want 0", got)
	}
}

// TestLeaveIgnoresDifferentSession verifies that a stale session cannot
// evict a newer session that reclaimed its identifier.
func TestLeaveIgnoresDifferentSession(t *testing.T) {
	hub := NewHub(nil)

	stale := newIdleSession(t, hub)
	stale.identifier = "alice"
	current := newIdleSession(t, hub)
	current.identifier = "alice"

	if !hub.TryJoin("alice", current) {
		t.Fatal("TryJoin failed")
	}

	hub.Leave("alice", stale)
	if !hub.IsOnline("alice") {
		t.Error("stale session's Leave evicted the current session")
	}
}

// TestBroadcastReachesEverySessionOnce verifies that a broadcast is
// delivered to every registered session, sender included, exactly once.
func TestBroadcastReachesEverySessionOnce(t *testing.T) {
	hub := NewHub(nil)

	names := []string{"alice", "bob", "carol"}
	sessions := make([]*Session, len(names))
	for i, name := range names {
		sessions[i] = newIdleSession(t, hub)
		sessions[i].identifier = name
		if !hub.TryJoin(name, sessions[i]) {
			t.Fatalf("TryJoin(%s) failed", name)
		}
	}

	hub.Broadcast(kindMessage, "alice: hello")

	want := "MESSAGE alice: hello"
	for i, session := range sessions {
		if got := receiveLine(t, session); got != want {
			t.Errorf("session %s received %q, want %q", names[i], got, want)
		}
		select {
		case extra := <-session.send:
			t.Errorf("session %s received a second delivery: %q", names[i], extra)
		default:
		}
	}
}

// TestSendDirectDeliversOnlyToTarget verifies whisper routing: the target
// receives the line, nobody else does, and the result reports delivery.
func TestSendDirectDeliversOnlyToTarget(t *testing.T) {
	hub := NewHub(nil)

	alice := newIdleSession(t, hub)
	alice.identifier = "alice"
	bob := newIdleSession(t, hub)
	bob.identifier = "bob"
	hub.TryJoin("alice", alice)
	hub.TryJoin("bob", bob)

	if !hub.SendDirect("alice", "bob", "hello") {
		t.Fatal("SendDirect to online target returned false")
	}

	if got, want := receiveLine(t, bob), "PRIVATE_FROM alice: hello"; got != want {
		t.Errorf("bob received %q, want %q", got, want)
	}

	select {
	case line := <-alice.send:
		t.Errorf("sender received the whisper: %q", line)
	default:
	}
}

// TestSendDirectAbsentTarget verifies that whispering to an offline
// identifier fails with no side effects.
func TestSendDirectAbsentTarget(t *testing.T) {
	hub := NewHub(nil)

	alice := newIdleSession(t, hub)
	alice.identifier = "alice"
	hub.TryJoin("alice", alice)

	if hub.SendDirect("alice", "carol", "hi") {
		t.Error("SendDirect to absent target returned true")
	}

	select {
	case line := <-alice.send:
		t.Errorf("unexpected delivery to sender: %q", line)
	default:
	}
}

// TestBroadcastEvictsFullSink verifies that a session whose outbound buffer
// is full is removed from the registry instead of stalling the fanout.
func TestBroadcastEvictsFullSink(t *testing.T) {
	hub := NewHub(nil)

	stuck := newIdleSession(t, hub)
	stuck.identifier = "stuck"
	healthy := newIdleSession(t, hub)
	healthy.identifier = "healthy"
	hub.TryJoin("stuck", stuck)
	hub.TryJoin("healthy", healthy)

	// Saturate the stuck session's sink.
	for i := 0; i < cap(stuck.send); i++ {
		stuck.send <- "filler"
	}

	hub.Broadcast(kindSystem, "overflow probe")

	if hub.IsOnline("stuck") {
		t.Error("session with full sink still registered after broadcast")
	}
	if !hub.IsOnline("healthy") {
		t.Error("healthy session was evicted")
	}

	// The healthy session must still have received the broadcast.
	found := false
	for !found {
		line := receiveLine(t, healthy)
		if strings.Contains(line, "overflow probe") {
			found = true
		}
	}
}

// TestHubShutdown verifies that Shutdown tears down registered sessions
// and returns once they deregister.
func TestHubShutdown(t *testing.T) {
	hub := NewHub(nil)
	store := NewCredentialStore(t.TempDir() + "/users.dat")
	if err := store.Register("alice", "secret", "Alice", "a@x.com"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	stream := newFakeStream()
	session := NewSession(stream, hub, store)

	done := make(chan struct{})
	go func() {
		session.Run()
		close(done)
	}()

	stream.push("LOGIN alice secret")
	waitForOnline(t, hub, "alice")

	if err := hub.Shutdown(2 * time.Second); err != nil {
		t.Errorf("Shutdown returned error: %v", err)
	}
	if got := hub.OnlineCount(); got != 0 {
		t.Errorf("OnlineCount() after shutdown = %d, want 0", got)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("session worker did not finish after shutdown")
	}
}

func waitForOnline(t *testing.T, hub *Hub, identifier string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.IsOnline(identifier) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never came online", identifier)
}
