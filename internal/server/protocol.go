// Package server defines the line-oriented chat protocol: the constant frame
// tag both peers strip and re-add, the command grammar, and the reply
// vocabulary stamped on every outbound line.
package server

import "strings"

// frameTag is the constant protocol tag wrapped around every line on the
// wire. It is a transport-framing detail: inbound lines are stripped before
// the grammar is parsed and every outbound line is prefixed again.
const frameTag = "<MYP2>"

// fieldDelimiter separates the fields of a persisted credential record.
// No field value may contain it; ValidateField enforces that at the
// session boundary before anything reaches the store.
const fieldDelimiter = "::"

// Client commands accepted before authentication.
const (
	cmdLogin    = "LOGIN"
	cmdRegister = "REGISTER"
	cmdCheckID  = "CHECK_ID"
)

// Client directives accepted after authentication. Any other line is
// treated as a broadcast chat message.
const (
	cmdWhisper = "WHISPER"
	cmdQuit    = "/quit"
)

// Message kinds stamped by the hub so every observer sees the same
// vocabulary.
const (
	kindMessage     = "MESSAGE"
	kindSystem      = "SYSTEM"
	kindPrivateFrom = "PRIVATE_FROM"
)

// Server reply verbs.
const (
	replyLoginSuccess    = "LOGIN_SUCCESS"
	replyLoginFail       = "LOGIN_FAIL"
	replyRegisterSuccess = "REGISTER_SUCCESS"
	replyRegisterFail    = "REGISTER_FAIL"
	replyIDOK            = "ID_OK"
	replyIDTaken         = "ID_TAKEN"
	replyPrivateSent     = "PRIVATE_SENT"
	replyError           = "ERROR"
)

// StripFrame removes the protocol tag from an inbound line. Lines arriving
// without the tag are returned unchanged so a tag-less client still parses.
func StripFrame(line string) string {
	if rest, ok := strings.CutPrefix(line, frameTag+" "); ok {
		return rest
	}
	return strings.TrimPrefix(line, frameTag)
}

// FrameLine prefixes the protocol tag onto an outbound payload.
func FrameLine(payload string) string {
	return frameTag + " " + payload
}

// ParseCommand splits a stripped line into its command verb and the rest of
// the line. The rest is empty when the line carries no arguments.
func ParseCommand(line string) (command, rest string) {
	command, rest, _ = strings.Cut(line, " ")
	return command, rest
}

// ValidateField reports whether a value may be stored as a credential field.
// The reserved record delimiter is rejected here, at the boundary, so the
// store itself never has to inspect field contents.
func ValidateField(value string) bool {
	return value != "" && !strings.Contains(value, fieldDelimiter)
}
