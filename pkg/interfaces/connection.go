package interfaces

import "context"

// Socket is one open chat connection.
// ARCHITECTURAL DISCOVERY: The connection manager only depends on this
// abstraction, so the state machine can be driven by in-memory sockets in
// tests and by gorilla connections in production.
type Socket interface {
	// WriteJSON encodes and sends one frame. Implementations must be safe for
	// concurrent use.
	WriteJSON(v interface{}) error

	// ReadMessage blocks until the next text frame arrives. A close or
	// transport failure is returned as an error carrying the close code.
	ReadMessage() ([]byte, error)

	// Close ends the connection with the given close code. Abnormal closure
	// (1006) drops the connection without a closing handshake.
	Close(code int, reason string) error
}

// Dialer opens chat sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}
