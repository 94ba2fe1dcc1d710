package hub

import (
	"carechat/pkg/types"
)

// MessageHandler receives inbound chat payloads.
type MessageHandler interface {
	HandleMessage(payload types.ChatPayload)
}

// ErrorHandler receives protocol, transport and reconnect errors.
type ErrorHandler interface {
	HandleError(err error)
}

// StateHandler receives connection state transitions.
type StateHandler interface {
	HandleState(state types.ConnectionState)
}

// FUNCTIONAL DISCOVERY: Funcs are not comparable, so the adapters below wrap
// them in pointers. Each call returns a distinct handler; keep the returned
// value to remove it later.

type messageFunc struct{ fn func(types.ChatPayload) }

func (h *messageFunc) HandleMessage(p types.ChatPayload) { h.fn(p) }

// MessageHandlerFunc adapts fn to a MessageHandler.
func MessageHandlerFunc(fn func(types.ChatPayload)) MessageHandler {
	return &messageFunc{fn: fn}
}

type errorFunc struct{ fn func(error) }

func (h *errorFunc) HandleError(err error) { h.fn(err) }

// ErrorHandlerFunc adapts fn to an ErrorHandler.
func ErrorHandlerFunc(fn func(error)) ErrorHandler {
	return &errorFunc{fn: fn}
}

type stateFunc struct{ fn func(types.ConnectionState) }

func (h *stateFunc) HandleState(s types.ConnectionState) { h.fn(s) }

// StateHandlerFunc adapts fn to a StateHandler.
func StateHandlerFunc(fn func(types.ConnectionState)) StateHandler {
	return &stateFunc{fn: fn}
}
