package hub

import "carechat/pkg/types"

// Event is one of MessageEvent, ErrorEvent or StateEvent.
type Event interface {
	isEvent()
}

type MessageEvent struct {
	Payload types.ChatPayload
}

type ErrorEvent struct {
	Err error
}

type StateEvent struct {
	State types.ConnectionState
}

func (MessageEvent) isEvent() {}
func (ErrorEvent) isEvent()   {}
func (StateEvent) isEvent()   {}
