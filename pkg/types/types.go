package types

import (
	"fmt"
	"time"
)

// ConnectionState is the lifecycle state of the chat socket.
// ARCHITECTURAL DISCOVERY: String values match what the chat backend's web
// client reports, so state strings can be logged and compared across clients.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "DISCONNECTED"
	StateConnecting    ConnectionState = "CONNECTING"
	StateConnected     ConnectionState = "CONNECTED"
	StateDisconnecting ConnectionState = "DISCONNECTING"
)

// Close codes the chat server uses on the socket.
const (
	CloseNormal               = 1000
	CloseAbnormal             = 1006
	CloseAuthenticationFailed = 4001
	CloseInvalidRoom          = 4002
)

// MaxMessageLength is the longest message body, counted in characters.
const MaxMessageLength = 5000

// OutboundMessage is a chat message the local user wants delivered to a peer.
// FUNCTIONAL DISCOVERY: ClientID is assigned when the message is admitted to
// the outbound queue and never leaves the process; it correlates log lines.
type OutboundMessage struct {
	ClientID string `json:"-"`
	Receiver int64  `json:"receiver"`
	Message  string `json:"message"`
}

// HistoryMessage is one stored message returned by the history and REST send
// endpoints.
type HistoryMessage struct {
	ID       int64     `json:"id"`
	Sender   int64     `json:"sender"`
	Receiver int64     `json:"receiver"`
	Message  string    `json:"message"`
	IsRead   bool      `json:"is_read"`
	Date     time.Time `json:"date"`
}

// UserSummary is a search result.
type UserSummary struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// StatusMessage is the body of acknowledgement-only responses.
type StatusMessage struct {
	Message string `json:"message"`
}

// RoomName returns the room shared by two users. The smaller id always comes
// first so both participants compute the same name.
func RoomName(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}
