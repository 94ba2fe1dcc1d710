package chat

import "carechat/pkg/types"

// Queue holds outbound messages in FIFO order while the socket is not
// writable. It is not safe for concurrent use; the Manager guards it.
type Queue struct {
	items []types.OutboundMessage
}

func (q *Queue) Push(msg types.OutboundMessage) {
	q.items = append(q.items, msg)
}

// Peek returns the oldest message without removing it.
func (q *Queue) Peek() (types.OutboundMessage, bool) {
	if len(q.items) == 0 {
		return types.OutboundMessage{}, false
	}
	return q.items[0], true
}

// Pop removes the oldest message.
func (q *Queue) Pop() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = types.OutboundMessage{}
	q.items = q.items[1:]
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Contains reports whether a message with clientID is still waiting.
func (q *Queue) Contains(clientID string) bool {
	for _, item := range q.items {
		if item.ClientID == clientID {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the waiting messages, oldest first.
func (q *Queue) Snapshot() []types.OutboundMessage {
	return append([]types.OutboundMessage(nil), q.items...)
}
