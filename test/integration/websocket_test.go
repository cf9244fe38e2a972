package integration

import (
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/whisperchat/internal/server"
	"github.com/Tyrowin/whisperchat/test/testhelpers"
)

// TestWebSocketChatSession verifies the full protocol works over the
// WebSocket transport: register, login, broadcast.
func TestWebSocketChatSession(t *testing.T) {
	fixture := testhelpers.StartChatFixture(t, func(config *server.Config) {
		config.AllowedOrigins = []string{"*"}
	})

	conn, err := testhelpers.ConnectWebSocket(fixture.WebSocketURL(), "http://example.com")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	testhelpers.WSSend(t, conn, "REGISTER alice secret Alice a@x.com")
	testhelpers.WSExpect(t, conn, "REGISTER_SUCCESS")

	testhelpers.WSSend(t, conn, "LOGIN alice secret")
	testhelpers.WSExpect(t, conn, "LOGIN_SUCCESS")

	testhelpers.WSSend(t, conn, "hello from websocket")
	if got, want := testhelpers.WSExpect(t, conn, "MESSAGE"), "MESSAGE alice: hello from websocket"; got != want {
		t.Errorf("received %q, want %q", got, want)
	}
}

// TestCrossTransportChat verifies that a WebSocket session and a TCP
// session share one registry: messages and whispers cross transports.
func TestCrossTransportChat(t *testing.T) {
	fixture := testhelpers.StartChatFixture(t, func(config *server.Config) {
		config.AllowedOrigins = []string{"*"}
	})

	tcpClient := fixture.DialChat(t)
	tcpClient.Register("alice", "secret", "Alice", "a@x.com")
	tcpClient.Login("alice", "secret")

	conn, err := testhelpers.ConnectWebSocket(fixture.WebSocketURL(), "http://example.com")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	testhelpers.WSSend(t, conn, "REGISTER bob secret Bob b@x.com")
	testhelpers.WSExpect(t, conn, "REGISTER_SUCCESS")
	testhelpers.WSSend(t, conn, "LOGIN bob secret")
	testhelpers.WSExpect(t, conn, "LOGIN_SUCCESS")

	tcpClient.Send("WHISPER bob hello websocket")
	if got, want := testhelpers.WSExpect(t, conn, "PRIVATE_FROM"), "PRIVATE_FROM alice: hello websocket"; got != want {
		t.Errorf("bob received %q, want %q", got, want)
	}

	testhelpers.WSSend(t, conn, "WHISPER alice hello tcp")
	if got, want := tcpClient.Expect("PRIVATE_FROM"), "PRIVATE_FROM bob: hello tcp"; got != want {
		t.Errorf("alice received %q, want %q", got, want)
	}
}

// TestWebSocketDuplicateLoginAcrossTransports verifies the registry
// enforces single-session-per-identifier across transports.
func TestWebSocketDuplicateLoginAcrossTransports(t *testing.T) {
	fixture := testhelpers.StartChatFixture(t, func(config *server.Config) {
		config.AllowedOrigins = []string{"*"}
	})

	tcpClient := fixture.DialChat(t)
	tcpClient.Register("alice", "secret", "Alice", "a@x.com")
	tcpClient.Login("alice", "secret")

	conn, err := testhelpers.ConnectWebSocket(fixture.WebSocketURL(), "http://example.com")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	testhelpers.WSSend(t, conn, "LOGIN alice secret")
	testhelpers.WSExpect(t, conn, "LOGIN_FAIL")

	if got := fixture.Hub.OnlineCount(); got != 1 {
		t.Errorf("OnlineCount() = %d, want 1", got)
	}
}

// TestWebSocketDisconnectCleansUp verifies closing the socket deregisters
// the session and notifies remaining users.
func TestWebSocketDisconnectCleansUp(t *testing.T) {
	fixture := testhelpers.StartChatFixture(t, func(config *server.Config) {
		config.AllowedOrigins = []string{"*"}
	})

	tcpClient := fixture.DialChat(t)
	tcpClient.Register("alice", "secret", "Alice", "a@x.com")
	tcpClient.Login("alice", "secret")

	conn, err := testhelpers.ConnectWebSocket(fixture.WebSocketURL(), "http://example.com")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	testhelpers.WSSend(t, conn, "REGISTER bob secret Bob b@x.com")
	testhelpers.WSExpect(t, conn, "REGISTER_SUCCESS")
	testhelpers.WSSend(t, conn, "LOGIN bob secret")
	testhelpers.WSExpect(t, conn, "LOGIN_SUCCESS")

	_ = conn.Close()

	departure := tcpClient.Expect("SYSTEM")
	for !strings.Contains(departure, "bob left") {
		departure = tcpClient.Expect("SYSTEM")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fixture.Hub.IsOnline("bob") {
		if time.Now().After(deadline) {
			t.Fatal("bob still online after websocket close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
