package hub

import (
	"reflect"
	"sync"

	"go.uber.org/zap"

	"carechat/internal/logging"
)

// Hub fans chat events out to registered handlers.
// ARCHITECTURAL DISCOVERY: Three typed handler sets replace string-keyed
// event names, so a handler can only ever receive the event type it declares.
// TECHNICAL DISCOVERY: Handlers are snapshotted under the read lock and
// invoked outside it, so a handler may register or remove handlers (or call
// back into the connection manager) without deadlocking.
type Hub struct {
	mu       sync.RWMutex
	messages map[MessageHandler]struct{}
	errs     map[ErrorHandler]struct{}
	states   map[StateHandler]struct{}

	logger *zap.Logger
}

// Stats reports how many handlers are registered per category.
type Stats struct {
	MessageHandlers int `json:"message_handlers"`
	ErrorHandlers   int `json:"error_handlers"`
	StateHandlers   int `json:"state_handlers"`
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		messages: make(map[MessageHandler]struct{}),
		errs:     make(map[ErrorHandler]struct{}),
		states:   make(map[StateHandler]struct{}),
		logger:   logging.OrNop(logger).Named("hub"),
	}
}

// OnMessage registers h. Registering the same handler twice has no effect.
func (h *Hub) OnMessage(handler MessageHandler) error {
	if err := checkHandler(handler); err != nil {
		return err
	}
	h.mu.Lock()
	h.messages[handler] = struct{}{}
	h.mu.Unlock()
	return nil
}

// OnError registers an error handler.
func (h *Hub) OnError(handler ErrorHandler) error {
	if err := checkHandler(handler); err != nil {
		return err
	}
	h.mu.Lock()
	h.errs[handler] = struct{}{}
	h.mu.Unlock()
	return nil
}

// OnState registers a state handler.
func (h *Hub) OnState(handler StateHandler) error {
	if err := checkHandler(handler); err != nil {
		return err
	}
	h.mu.Lock()
	h.states[handler] = struct{}{}
	h.mu.Unlock()
	return nil
}

// RemoveMessage unregisters handler. Unknown handlers are ignored.
func (h *Hub) RemoveMessage(handler MessageHandler) {
	if checkHandler(handler) != nil {
		return
	}
	h.mu.Lock()
	delete(h.messages, handler)
	h.mu.Unlock()
}

func (h *Hub) RemoveError(handler ErrorHandler) {
	if checkHandler(handler) != nil {
		return
	}
	h.mu.Lock()
	delete(h.errs, handler)
	h.mu.Unlock()
}

func (h *Hub) RemoveState(handler StateHandler) {
	if checkHandler(handler) != nil {
		return
	}
	h.mu.Lock()
	delete(h.states, handler)
	h.mu.Unlock()
}

// Clear removes every handler from all categories.
func (h *Hub) Clear() {
	h.mu.Lock()
	h.messages = make(map[MessageHandler]struct{})
	h.errs = make(map[ErrorHandler]struct{})
	h.states = make(map[StateHandler]struct{})
	h.mu.Unlock()
}

// Stats returns the current handler counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		MessageHandlers: len(h.messages),
		ErrorHandlers:   len(h.errs),
		StateHandlers:   len(h.states),
	}
}

// Publish delivers ev synchronously to every handler of its category.
// Delivery order between handlers is unspecified.
func (h *Hub) Publish(ev Event) {
	switch e := ev.(type) {
	case MessageEvent:
		h.mu.RLock()
		handlers := make([]MessageHandler, 0, len(h.messages))
		for handler := range h.messages {
			handlers = append(handlers, handler)
		}
		h.mu.RUnlock()
		for _, handler := range handlers {
			h.invoke("message", func() { handler.HandleMessage(e.Payload) })
		}

	case ErrorEvent:
		h.mu.RLock()
		handlers := make([]ErrorHandler, 0, len(h.errs))
		for handler := range h.errs {
			handlers = append(handlers, handler)
		}
		h.mu.RUnlock()
		if len(handlers) == 0 {
			h.logger.Debug("error event with no subscribers", zap.Error(e.Err))
		}
		for _, handler := range handlers {
			h.invoke("error", func() { handler.HandleError(e.Err) })
		}

	case StateEvent:
		h.mu.RLock()
		handlers := make([]StateHandler, 0, len(h.states))
		for handler := range h.states {
			handlers = append(handlers, handler)
		}
		h.mu.RUnlock()
		for _, handler := range handlers {
			h.invoke("state", func() { handler.HandleState(e.State) })
		}
	}
}

// invoke isolates a panicking handler from the publisher and the other
// handlers.
func (h *Hub) invoke(category string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked",
				zap.String("category", category),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// checkHandler rejects nil handlers and handler types that cannot be map keys.
func checkHandler(handler interface{}) error {
	if handler == nil {
		return ErrNilHandler
	}
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return ErrNilHandler
	}
	if !v.Type().Comparable() {
		return ErrHandlerNotComparable
	}
	return nil
}
