package types

import (
	"fmt"
	"unicode/utf8"
)

// Validate checks an outbound message before it is sent or queued.
// FUNCTIONAL DISCOVERY: Invalid messages are rejected here so they can never
// reach the outbound queue.
func (m OutboundMessage) Validate() error {
	if m.Message == "" {
		return fmt.Errorf("%w: message content is required", ErrInvalidMessage)
	}
	if m.Receiver <= 0 {
		return fmt.Errorf("%w: receiver id is required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(m.Message) > MaxMessageLength {
		return fmt.Errorf("%w: message content too long (max %d characters)", ErrInvalidMessage, MaxMessageLength)
	}
	return nil
}
