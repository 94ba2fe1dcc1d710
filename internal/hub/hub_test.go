package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat/pkg/types"
)

type countingMessages struct {
	mu    sync.Mutex
	count int
	last  types.ChatPayload
}

func (c *countingMessages) HandleMessage(p types.ChatPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.last = p
}

type valueHandler struct{ fn func(types.ChatPayload) }

func (v valueHandler) HandleMessage(p types.ChatPayload) { v.fn(p) }

func payload(t *testing.T, data string) types.ChatPayload {
	t.Helper()
	frame, err := types.ParseFrame([]byte(data))
	require.NoError(t, err)
	return frame.(types.ChatPayload)
}

func TestHub_RegisterTwiceDeliversOnce(t *testing.T) {
	h := NewHub(nil)
	handler := &countingMessages{}

	require.NoError(t, h.OnMessage(handler))
	require.NoError(t, h.OnMessage(handler))

	h.Publish(MessageEvent{Payload: payload(t, `{"message":"hi"}`)})

	assert.Equal(t, 1, handler.count)
	assert.Equal(t, "hi", handler.last.String("message"))
	assert.Equal(t, 1, h.Stats().MessageHandlers)
}

func TestHub_RemoveUnknownIsNoop(t *testing.T) {
	h := NewHub(nil)
	registered := &countingMessages{}
	require.NoError(t, h.OnMessage(registered))

	h.RemoveMessage(&countingMessages{})
	h.RemoveError(ErrorHandlerFunc(func(error) {}))
	h.RemoveState(nil)

	assert.Equal(t, Stats{MessageHandlers: 1}, h.Stats())
}

func TestHub_RemoveStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	calls := 0
	handler := StateHandlerFunc(func(types.ConnectionState) { calls++ })

	require.NoError(t, h.OnState(handler))
	h.Publish(StateEvent{State: types.StateConnecting})
	h.RemoveState(handler)
	h.Publish(StateEvent{State: types.StateConnected})

	assert.Equal(t, 1, calls)
}

func TestHub_FuncAdaptersAreDistinct(t *testing.T) {
	h := NewHub(nil)
	fn := func(error) {}

	require.NoError(t, h.OnError(ErrorHandlerFunc(fn)))
	require.NoError(t, h.OnError(ErrorHandlerFunc(fn)))

	assert.Equal(t, 2, h.Stats().ErrorHandlers)
}

func TestHub_PublishRoutesByCategory(t *testing.T) {
	h := NewHub(nil)
	var gotErr error
	var gotState types.ConnectionState
	messages := &countingMessages{}

	require.NoError(t, h.OnMessage(messages))
	require.NoError(t, h.OnError(ErrorHandlerFunc(func(err error) { gotErr = err })))
	require.NoError(t, h.OnState(StateHandlerFunc(func(s types.ConnectionState) { gotState = s })))

	boom := errors.New("boom")
	h.Publish(ErrorEvent{Err: boom})
	h.Publish(StateEvent{State: types.StateDisconnected})

	assert.Equal(t, 0, messages.count)
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, types.StateDisconnected, gotState)
}

func TestHub_Clear(t *testing.T) {
	h := NewHub(nil)
	require.NoError(t, h.OnMessage(&countingMessages{}))
	require.NoError(t, h.OnError(ErrorHandlerFunc(func(error) {})))
	require.NoError(t, h.OnState(StateHandlerFunc(func(types.ConnectionState) {})))

	h.Clear()

	assert.Equal(t, Stats{}, h.Stats())
}

func TestHub_RejectsInvalidHandlers(t *testing.T) {
	h := NewHub(nil)

	assert.ErrorIs(t, h.OnMessage(nil), ErrNilHandler)

	var typedNil *countingMessages
	assert.ErrorIs(t, h.OnMessage(typedNil), ErrNilHandler)

	err := h.OnMessage(valueHandler{fn: func(types.ChatPayload) {}})
	assert.ErrorIs(t, err, ErrHandlerNotComparable)
}

func TestHub_PanickingHandlerIsolated(t *testing.T) {
	h := NewHub(nil)
	survivor := &countingMessages{}

	require.NoError(t, h.OnMessage(MessageHandlerFunc(func(types.ChatPayload) { panic("bad handler") })))
	require.NoError(t, h.OnMessage(survivor))

	assert.NotPanics(t, func() {
		h.Publish(MessageEvent{Payload: payload(t, `{"message":"still here"}`)})
	})
	assert.Equal(t, 1, survivor.count)
}

func TestHub_HandlerMayMutateHub(t *testing.T) {
	h := NewHub(nil)
	var self StateHandler
	self = StateHandlerFunc(func(types.ConnectionState) { h.RemoveState(self) })
	require.NoError(t, h.OnState(self))

	h.Publish(StateEvent{State: types.StateConnected})

	assert.Equal(t, 0, h.Stats().StateHandlers)
}

func TestHub_ConcurrentPublishAndRegister(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.OnMessage(&countingMessages{})
		}()
		go func() {
			defer wg.Done()
			h.Publish(MessageEvent{Payload: types.ChatPayload{}})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, h.Stats().MessageHandlers)
}
