// Package server abstracts the socket plumbing behind a line-delimited
// stream so the session state machine never touches a concrete connection
// type. Two implementations are provided: raw TCP for the native client
// protocol and a WebSocket adapter for browser clients.
package server

import (
	"bufio"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// LineStream is the byte-stream abstraction the session machine runs over:
// read one line, write one line, close. ReadLine blocks until a full line
// arrives or the underlying connection fails; it is the session's only
// suspension point. Close must be safe to call concurrently with a blocked
// ReadLine and must unblock it.
type LineStream interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

type tcpLineStream struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writer  *bufio.Writer
}

// NewTCPLineStream wraps a TCP connection as a LineStream. Lines longer
// than maxLineSize terminate the stream with bufio.ErrTooLong.
func NewTCPLineStream(conn net.Conn, maxLineSize int64) LineStream {
	// The scanner's max token is the larger of max and cap(buf), so the
	// initial buffer must not exceed the configured limit.
	initial := int64(1024)
	if initial > maxLineSize {
		initial = maxLineSize
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, int(initial)), int(maxLineSize))

	return &tcpLineStream{
		conn:    conn,
		scanner: scanner,
		writer:  bufio.NewWriter(conn),
	}
}

func (t *tcpLineStream) ReadLine() (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return t.scanner.Text(), nil
}

func (t *tcpLineStream) WriteLine(line string) error {
	if _, err := t.writer.WriteString(line + "\n"); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *tcpLineStream) Close() error {
	return t.conn.Close()
}

func (t *tcpLineStream) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

type wsLineStream struct {
	conn *websocket.Conn
}

// NewWebSocketLineStream adapts an upgraded WebSocket connection as a
// LineStream, one text frame per line.
func NewWebSocketLineStream(conn *websocket.Conn, maxLineSize int64) LineStream {
	conn.SetReadLimit(maxLineSize)
	return &wsLineStream{conn: conn}
}

func (w *wsLineStream) ReadLine() (string, error) {
	for {
		messageType, payload, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return string(payload), nil
	}
}

func (w *wsLineStream) WriteLine(line string) error {
	return w.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (w *wsLineStream) Close() error {
	return w.conn.Close()
}

func (w *wsLineStream) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
