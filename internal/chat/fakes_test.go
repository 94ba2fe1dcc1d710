package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carechat/internal/hub"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// fakeClock runs AfterFunc callbacks synchronously from Advance, in due
// order.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	c.scheduled = append(c.scheduled, d)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := make([]*fakeTimer, 0, len(c.timers))
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.fn()
	}
}

// activeDelays returns the durations of timers that have neither fired nor
// been stopped.
func (c *fakeClock) activeDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for i, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, c.scheduled[i])
		}
	}
	return out
}

var errSocketClosed = errors.New("fake socket closed")

type fakeSocket struct {
	mu          sync.Mutex
	written     [][]byte
	writeErr    error
	closeCode   int
	closeReason string

	inbound     chan []byte
	remoteClose chan error
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:     make(chan []byte, 16),
		remoteClose: make(chan error, 1),
		closed:      make(chan struct{}),
	}
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case err := <-s.remoteClose:
		return nil, err
	case <-s.closed:
		return nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "closed locally"}
	}
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.closeReason = reason
		s.mu.Unlock()
		close(s.closed)
	})
	return nil
}

func (s *fakeSocket) serverSend(frame string) {
	s.inbound <- []byte(frame)
}

func (s *fakeSocket) serverClose(code int, reason string) {
	s.remoteClose <- &websocket.CloseError{Code: code, Text: reason}
}

// serverDrop ends the read side without a close frame.
func (s *fakeSocket) serverDrop(err error) {
	s.remoteClose <- err
}

func (s *fakeSocket) setWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) closedWith() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason
}

// frames returns every written frame decoded as a generic object.
func (s *fakeSocket) frames() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(s.written))
	for _, raw := range s.written {
		var f map[string]interface{}
		_ = json.Unmarshal(raw, &f)
		out = append(out, f)
	}
	return out
}

// chatMessages returns the bodies of written chat_message frames in order.
func (s *fakeSocket) chatMessages() []string {
	var out []string
	for _, f := range s.frames() {
		if f["type"] == types.FrameTypeChatMessage {
			out = append(out, f["message"].(string))
		}
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	sockets []*fakeSocket
	fail    error
	gate    chan struct{}
}

var _ interfaces.Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) Dial(ctx context.Context, url string) (interfaces.Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) hold() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

func (d *fakeDialer) release() {
	d.mu.Lock()
	gate := d.gate
	d.gate = nil
	d.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

func (d *fakeDialer) socketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[i]
}

type fakeCreds struct {
	mu         sync.Mutex
	token      string
	userID     int64
	headersErr error
}

func (c *fakeCreds) AuthorizedHeaders(ctx context.Context) (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headersErr != nil {
		return nil, c.headersErr
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (c *fakeCreds) CurrentAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *fakeCreds) CurrentUserID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, nil
}

func (c *fakeCreds) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// recorder subscribes to all three hub categories.
type recorder struct {
	mu       sync.Mutex
	states   []types.ConnectionState
	errs     []error
	messages []types.ChatPayload
}

func newRecorder(h *hub.Hub) *recorder {
	r := &recorder{}
	_ = h.OnState(hub.StateHandlerFunc(func(s types.ConnectionState) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
	}))
	_ = h.OnError(hub.ErrorHandlerFunc(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}))
	_ = h.OnMessage(hub.MessageHandlerFunc(func(p types.ChatPayload) {
		r.mu.Lock()
		r.messages = append(r.messages, p)
		r.mu.Unlock()
	}))
	return r
}

func (r *recorder) stateLog() []types.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ConnectionState(nil), r.states...)
}

func (r *recorder) errorLog() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) messageLog() []types.ChatPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ChatPayload(nil), r.messages...)
}

func (r *recorder) sawError(target error) bool {
	for _, err := range r.errorLog() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
