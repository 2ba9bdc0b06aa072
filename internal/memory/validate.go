package memory

import (
	"fmt"
	"strings"

	"minimemori/internal/errs"
)

// DefaultConversationID groups messages saved without an explicit
// conversation.
const DefaultConversationID = "default"

// ValidateMessage rejects empty required fields before anything is persisted.
func ValidateMessage(role, content, conversationID string) error {
	if role == "" {
		return fmt.Errorf("%w: role must be a non-empty string", errs.ErrInvalidInput)
	}
	if content == "" {
		return fmt.Errorf("%w: content must be a non-empty string", errs.ErrInvalidInput)
	}
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id must be a non-empty string", errs.ErrInvalidInput)
	}
	return nil
}

// SanitizeConversationID strips a conversation id to [A-Za-z0-9_.-]. An id
// that sanitizes to nothing becomes DefaultConversationID.
func SanitizeConversationID(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '_', c == '-', c == '.':
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return DefaultConversationID
	}
	return b.String()
}
