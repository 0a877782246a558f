package conversations

import (
	"errors"
	"strings"
	"testing"
)

func TestIdentifierValidation(t *testing.T) {
	if _, err := NewConversationID("  "); !errors.Is(err, ErrInvalidConversationID) {
		t.Fatalf("expected ErrInvalidConversationID, got %v", err)
	}
	if _, err := NewMessageID(""); !errors.Is(err, ErrInvalidMessageID) {
		t.Fatalf("expected ErrInvalidMessageID, got %v", err)
	}
	if _, err := NewUserID(strings.Repeat("x", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}

	id, err := NewConversationID("  conv-1  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "conv-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestParseConversationType(t *testing.T) {
	tests := []struct {
		input   string
		want    ConversationType
		wantErr bool
	}{
		{input: "private", want: ConversationTypePrivate},
		{input: " Group ", want: ConversationTypeGroup},
		{input: "broadcast", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseConversationType(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidConversationType) {
				t.Fatalf("%q: expected ErrInvalidConversationType, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("%q: got %s, want %s", tt.input, got, tt.want)
		}
	}
}
