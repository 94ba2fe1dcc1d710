package types

import "errors"

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrMalformedFrame = errors.New("malformed frame")
)
