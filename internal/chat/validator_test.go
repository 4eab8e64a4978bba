package chat

import (
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid", "hello there", false},
		{"empty", "", true},
		{"exactly at char limit", strings.Repeat("a", MaxMessageChars), false},
		{"over char limit", strings.Repeat("a", MaxMessageChars+1), true},
		{"over byte limit", strings.Repeat("界", MaxMessageBytes/3+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"unicode", "héllo 世界", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessage(tc.text)
			if tc.wantErr && err == nil {
				t.Errorf("expected error for %q", tc.name)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid", "alice", false},
		{"empty", "", true},
		{"at limit", strings.Repeat("a", MaxUsernameChars), false},
		{"over limit", strings.Repeat("a", MaxUsernameChars+1), true},
		{"invalid utf8", string([]byte{0xff}), true},
		{"unicode", "アリス", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUsername(tc.username)
			if tc.wantErr && err == nil {
				t.Errorf("expected error for %q", tc.name)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
