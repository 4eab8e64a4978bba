package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes  = 4096 // 4KB max frame payload
	MaxMessageChars  = 2000 // max character count per message
	MaxUsernameChars = 24   // max character count per username
)

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return fmt.Errorf("message exceeds %d character limit", MaxMessageChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ValidateUsername checks that a username is non-empty, within the length
// cap, and valid UTF-8.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("username is empty")
	}
	if utf8.RuneCountInString(name) > MaxUsernameChars {
		return fmt.Errorf("username exceeds %d character limit", MaxUsernameChars)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("username contains invalid UTF-8")
	}
	return nil
}
