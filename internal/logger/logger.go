// Package logger configures structured JSON logging for the WhisperChat
// server.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup creates a slog.Logger writing JSON records to the given writer.
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault installs a JSON logger as the process-wide default.
// Production passes os.Stdout; tests pass a buffer or nil to keep stdout.
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}
