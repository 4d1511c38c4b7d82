package board

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxMessageChars = 2000 // max character count for chat messages
	MaxTaskChars    = 500  // max character count for task content
)

// ErrInvalid wraps every content validation failure so callers can map it to
// a client error rather than a persistence failure.
var ErrInvalid = errors.New("invalid content")

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("%w: message text is empty", ErrInvalid)
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: message exceeds %d byte limit", ErrInvalid, MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return fmt.Errorf("%w: message exceeds %d character limit", ErrInvalid, MaxMessageChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message contains invalid UTF-8", ErrInvalid)
	}
	return nil
}

// ValidateTask checks task content and status before a create or update is
// accepted.
func ValidateTask(content string, status TaskStatus) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: task content is empty", ErrInvalid)
	}
	if utf8.RuneCountInString(content) > MaxTaskChars {
		return fmt.Errorf("%w: task content exceeds %d character limit", ErrInvalid, MaxTaskChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: task content contains invalid UTF-8", ErrInvalid)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown task status %q", ErrInvalid, status)
	}
	return nil
}
