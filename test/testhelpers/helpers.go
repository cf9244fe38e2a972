// Package testhelpers provides common utilities and helper functions for
// testing the WhisperChat server.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests: a scripted chat client speaking the line protocol
// over TCP or WebSocket, fixtures that stand up a full server on ephemeral
// ports, and HTTP assertion helpers.
package testhelpers

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/whisperchat/internal/server"
)

const frameTag = "<MYP2>"

// ChatFixture is a running chat server on ephemeral ports, torn down when
// the test finishes.
type ChatFixture struct {
	Hub        *server.Hub
	Store      *server.CredentialStore
	ChatServer *server.ChatServer
	HTTPServer *httptest.Server
}

// StartChatFixture configures and starts a complete server: TCP chat
// listener, HTTP side with the WebSocket endpoint, a fresh hub, and a
// credential store in a temp directory. The passed mutate function may
// adjust the config before it is applied; pass nil to keep defaults.
func StartChatFixture(t *testing.T, mutate func(*server.Config)) *ChatFixture {
	t.Helper()

	config := server.NewConfig()
	config.ChatAddr = "127.0.0.1:0"
	config.CredentialFile = t.TempDir() + "/users.dat"
	if mutate != nil {
		mutate(config)
	}
	server.SetConfig(config)
	t.Cleanup(func() { server.SetConfig(nil) })

	registry := prometheus.NewRegistry()
	metrics := server.NewMetrics(registry)
	store := server.NewCredentialStore(config.CredentialFile)
	hub := server.NewHub(metrics)

	chatServer := server.NewChatServer(hub, store)
	go func() {
		_ = chatServer.ListenAndServe()
	}()
	waitForListener(t, chatServer)

	httpServer := httptest.NewServer(server.SetupRoutes(hub, store, registry))

	t.Cleanup(func() {
		httpServer.Close()
		_ = chatServer.Shutdown(5 * time.Second)
		_ = hub.Shutdown(5 * time.Second)
	})

	return &ChatFixture{
		Hub:        hub,
		Store:      store,
		ChatServer: chatServer,
		HTTPServer: httpServer,
	}
}

// WebSocketURL returns the fixture's WebSocket chat endpoint.
func (f *ChatFixture) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(f.HTTPServer.URL, "http") + "/ws"
}

func waitForListener(t *testing.T, chatServer *server.ChatServer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if chatServer.Addr() != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("chat server never started listening")
}

// ChatClient is a scripted protocol client used to drive test scenarios.
type ChatClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// DialChat connects a TCP chat client to the fixture's chat listener.
func (f *ChatFixture) DialChat(t *testing.T) *ChatClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", f.ChatServer.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("failed to dial chat server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &ChatClient{
		t:      t,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Send writes one protocol line, adding the frame tag the way a real
// client does.
func (c *ChatClient) Send(payload string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(frameTag + " " + payload + "\n")); err != nil {
		c.t.Fatalf("failed to send %q: %v", payload, err)
	}
}

// Expect reads lines until one starts with the given prefix (after frame
// stripping) and returns it. Unrelated traffic such as join broadcasts is
// skipped.
func (c *ChatClient) Expect(prefix string) string {
	c.t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("failed to set read deadline: %v", err)
		}
		raw, err := c.reader.ReadString('\n')
		if err != nil {
			c.t.Fatalf("timed out waiting for line with prefix %q: %v", prefix, err)
		}
		line := stripFrame(strings.TrimRight(raw, "\r\n"))
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

// ExpectNone asserts that no line starting with the prefix arrives within
// the window.
func (c *ChatClient) ExpectNone(prefix string, window time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(window)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("failed to set read deadline: %v", err)
		}
		raw, err := c.reader.ReadString('\n')
		if err != nil {
			return
		}
		line := stripFrame(strings.TrimRight(raw, "\r\n"))
		if strings.HasPrefix(line, prefix) {
			c.t.Fatalf("unexpected line %q", line)
		}
	}
}

// Login drives a LOGIN exchange and fails the test unless it succeeds.
func (c *ChatClient) Login(identifier, password string) {
	c.t.Helper()
	c.Send("LOGIN " + identifier + " " + password)
	c.Expect("LOGIN_SUCCESS")
}

// Register drives a REGISTER exchange and fails the test unless it
// succeeds.
func (c *ChatClient) Register(identifier, password, name, email string) {
	c.t.Helper()
	c.Send("REGISTER " + identifier + " " + password + " " + name + " " + email)
	c.Expect("REGISTER_SUCCESS")
}

// Close drops the TCP connection abruptly, simulating a transport failure.
func (c *ChatClient) Close() {
	_ = c.conn.Close()
}

func stripFrame(line string) string {
	if rest, ok := strings.CutPrefix(line, frameTag+" "); ok {
		return rest
	}
	return strings.TrimPrefix(line, frameTag)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the given Origin header. It returns the connection or an error if the
// handshake fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// WSSend writes one framed protocol line as a WebSocket text message.
func WSSend(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frameTag+" "+payload)); err != nil {
		t.Fatalf("failed to send %q: %v", payload, err)
	}
}

// WSExpect reads WebSocket messages until one starts with the given prefix
// (after frame stripping) and returns it.
func WSExpect(t *testing.T, conn *websocket.Conn, prefix string) string {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("failed to set read deadline: %v", err)
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("timed out waiting for line with prefix %q: %v", prefix, err)
		}
		line := stripFrame(string(payload))
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
