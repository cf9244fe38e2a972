// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler returns a handler that upgrades HTTP connections to
// WebSocket and runs the same session state machine the TCP listener uses,
// one text frame per protocol line. The handler goroutine is the session's
// worker; it blocks until the connection terminates.
func WebSocketHandler(hub *Hub, store *CredentialStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		cfg := currentConfig()
		stream := NewWebSocketLineStream(conn, cfg.MaxMessageSize)
		NewSession(stream, hub, store).Run()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "WhisperChat server is running!")
}

// TestPageHandler serves an HTML test page for exercising the chat protocol
// over the WebSocket endpoint. Lines are sent and shown raw, including the
// protocol tag, so the page doubles as a protocol debugger.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>WhisperChat Protocol Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #lines {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            white-space: pre;
        }
        input[type="text"] { width: 420px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>WhisperChat Protocol Test</h1>
    <p>Try: <code>&lt;MYP2&gt; REGISTER alice secret Alice a@example.com</code>,
       then <code>&lt;MYP2&gt; LOGIN alice secret</code>.</p>
    <div>
        <input type="text" id="lineInput" placeholder="<MYP2> LOGIN alice secret">
        <button onclick="sendLine()">Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div id="lines"></div>

    <script>
        let ws = null;
        const linesDiv = document.getElementById('lines');
        const lineInput = document.getElementById('lineInput');
        const connectButton = document.getElementById('connectButton');

        function addLine(prefix, text) {
            linesDiv.textContent += prefix + ' ' + text + '\n';
            linesDiv.scrollTop = linesDiv.scrollHeight;
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = function() { addLine('**', 'connected'); connectButton.textContent = 'Disconnect'; };
            ws.onmessage = function(event) { addLine('<<', event.data); };
            ws.onclose = function() { addLine('**', 'disconnected'); connectButton.textContent = 'Connect'; ws = null; };
        }

        function sendLine() {
            const line = lineInput.value;
            if (line && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(line);
                addLine('>>', line);
                lineInput.value = '';
            }
        }

        lineInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendLine(); }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Warn("error writing html response", "error", err)
	}
}
