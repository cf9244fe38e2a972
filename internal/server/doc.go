// Package server implements the core WhisperChat engine: the credential
// store, the session registry (hub), and the per-connection session state
// machine, together with the TCP and WebSocket transports that feed it.
//
// The implementation is organized into specialized files for configuration,
// hub management, sessions, the credential store, transports, routing, and
// HTTP handlers to keep the codebase maintainable and testable as the
// project grows.
package server
