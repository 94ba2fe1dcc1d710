package chat

import "errors"

var (
	// ErrMissingParameters means the token, user id or peer id is unknown.
	ErrMissingParameters = errors.New("missing connection parameters")

	// ErrTransport wraps socket-level failures: undecodable frames, failed
	// writes, unexpected closures.
	ErrTransport = errors.New("transport error")

	// ErrServerError wraps an error frame sent by the chat server.
	ErrServerError = errors.New("server error")

	// ErrAuthenticationFailed is reported when the server closes with 4001.
	// The manager does not reconnect.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidRoom is reported when the server closes with 4002. The
	// manager does not reconnect.
	ErrInvalidRoom = errors.New("invalid room")

	// ErrReconnectExhausted is reported when every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("max reconnection attempts reached")
)
