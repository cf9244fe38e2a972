package server

import "testing"

// TestStripFrame verifies that the protocol tag is removed from inbound
// lines and that tag-less lines pass through unchanged.
func TestStripFrame(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"tagged command", "<MYP2> LOGIN alice secret", "LOGIN alice secret"},
		{"tag only", "<MYP2>", ""},
		{"untagged line", "LOGIN alice secret", "LOGIN alice secret"},
		{"tag inside payload survives", "<MYP2> say <MYP2> hi", "say <MYP2> hi"},
		{"empty line", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFrame(tt.line); got != tt.want {
				t.Errorf("StripFrame(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

// TestFrameLine verifies that outbound payloads are prefixed with the
// protocol tag.
func TestFrameLine(t *testing.T) {
	got := FrameLine("SYSTEM alice joined the chat")
	want := "<MYP2> SYSTEM alice joined the chat"
	if got != want {
		t.Errorf("FrameLine() = %q, want %q", got, want)
	}
}

// TestFrameRoundTrip verifies that framing then stripping returns the
// original payload.
func TestFrameRoundTrip(t *testing.T) {
	payloads := []string{"LOGIN alice secret", "", "WHISPER bob hello there"}
	for _, payload := range payloads {
		if got := StripFrame(FrameLine(payload)); got != payload {
			t.Errorf("StripFrame(FrameLine(%q)) = %q", payload, got)
		}
	}
}

// TestParseCommand verifies command/rest splitting.
func TestParseCommand(t *testing.T) {
	tests := []struct {
		line        string
		wantCommand string
		wantRest    string
	}{
		{"LOGIN alice secret", "LOGIN", "alice secret"},
		{"CHECK_ID alice", "CHECK_ID", "alice"},
		{"LOGIN", "LOGIN", ""},
		{"WHISPER bob hello world", "WHISPER", "bob hello world"},
		{"", "", ""},
	}

	for _, tt := range tests {
		command, rest := ParseCommand(tt.line)
		if command != tt.wantCommand || rest != tt.wantRest {
			t.Errorf("ParseCommand(%q) = (%q, %q), want (%q, %q)",
				tt.line, command, rest, tt.wantCommand, tt.wantRest)
		}
	}
}

// TestValidateField verifies that the record delimiter is rejected inside
// any credential field.
func TestValidateField(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"alice", true},
		{"a@example.com", true},
		{"", false},
		{"al::ice", false},
		{"::", false},
	}

	for _, tt := range tests {
		if got := ValidateField(tt.value); got != tt.want {
			t.Errorf("ValidateField(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
