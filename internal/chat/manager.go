package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carechat/internal/config"
	"carechat/internal/hub"
	"carechat/internal/logging"
	"carechat/internal/metrics"
	"carechat/internal/websocket"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// Credentials supplies the session the manager connects with.
type Credentials interface {
	AuthorizedHeaders(ctx context.Context) (http.Header, error)
	CurrentAccessToken(ctx context.Context) (string, error)
	CurrentUserID(ctx context.Context) (int64, error)
}

// SendResult reports what Send did with a message.
type SendResult int

const (
	// Sent means the message was written to the open socket.
	Sent SendResult = iota + 1
	// Queued means the message waits in the outbound queue for the next open.
	Queued
)

func (r SendResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	default:
		return "unknown"
	}
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager owns the chat socket between the local user and one peer.
// ARCHITECTURAL DISCOVERY: All state lives behind one mutex. Socket
// callbacks, timers and callers all take it, and each socket carries the
// generation it was opened under so callbacks from a replaced socket are
// dropped instead of corrupting the current one.
// TECHNICAL DISCOVERY: Hub events produced while the lock is held are
// buffered in pending and published by unlock, after the mutex is released,
// so subscribers may call back into the manager.
type Manager struct {
	cfg     *config.WebSocketConfig
	creds   Credentials
	dialer  interfaces.Dialer
	hub     *hub.Hub
	clock   Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu             sync.Mutex
	state          types.ConnectionState
	socket         interfaces.Socket
	generation     uint64
	cancelDial     context.CancelFunc
	token          string
	userID         int64
	peerID         int64
	backoff        Backoff
	reconnectTimer Timer
	reconnectSeq   uint64
	heartbeatTimer Timer
	heartbeatSeq   uint64
	lastHeartbeat  time.Time
	queue          Queue
	pending        []hub.Event
}

// NewManager builds a disconnected manager.
func NewManager(cfg *config.WebSocketConfig, creds Credentials, dialer interfaces.Dialer, h *hub.Hub, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		creds:  creds,
		dialer: dialer,
		hub:    h,
		clock:  RealClock(),
		state:  types.StateDisconnected,
		backoff: Backoff{
			Base:        cfg.ReconnectBaseDelay,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).Named("chat")
	m.metrics.SetConnectionState(m.state)
	return m
}

// SetPeer selects the user to chat with. It takes effect on the next
// connect.
func (m *Manager) SetPeer(peerID int64) {
	m.mu.Lock()
	m.peerID = peerID
	m.mu.Unlock()
}

// Initialize resolves fresh credentials and connects. Failures are returned
// and also reported to error subscribers.
func (m *Manager) Initialize(ctx context.Context) error {
	headers, err := m.creds.AuthorizedHeaders(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("initialize chat: %w", err))
	}
	userID, err := m.creds.CurrentUserID(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("initialize chat: %w", err))
	}

	m.mu.Lock()
	m.token = strings.TrimPrefix(headers.Get("Authorization"), "Bearer ")
	m.userID = userID
	err = m.connectLocked()
	m.unlock()

	if err != nil {
		return m.fail(err)
	}
	return nil
}

// Connect dials with the credentials captured by Initialize. It does nothing
// while a socket is being dialled or is open.
func (m *Manager) Connect() error {
	m.mu.Lock()
	err := m.connectLocked()
	m.unlock()
	if err != nil {
		return m.fail(err)
	}
	return nil
}

// Send validates msg and writes it, or queues it until the socket is open.
func (m *Manager) Send(msg types.OutboundMessage) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return 0, err
	}
	if msg.ClientID == "" {
		msg.ClientID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.unlock()

	connected := m.state == types.StateConnected && m.socket != nil
	writeFailed := false
	if connected && m.queue.Len() == 0 {
		if err := m.transmitLocked(msg); err == nil {
			return Sent, nil
		}
		writeFailed = true
	}

	// Anything already waiting goes first.
	m.queue.Push(msg)
	m.metrics.IncMessagesQueued()
	m.logger.Debug("message queued",
		zap.String("client_id", msg.ClientID),
		zap.Int("queue_len", m.queue.Len()))

	if connected && !writeFailed {
		m.flushLocked()
		if !m.queue.Contains(msg.ClientID) {
			return Sent, nil
		}
	}
	m.metrics.SetQueueDepth(m.queue.Len())
	return Queued, nil
}

// SafeClose closes the socket with 1000 and cancels any pending reconnect.
// Calling it while disconnected is harmless.
func (m *Manager) SafeClose() {
	m.mu.Lock()
	defer m.unlock()

	m.cancelReconnectLocked()
	if m.state == types.StateDisconnected && m.socket == nil {
		return
	}

	m.setStateLocked(types.StateDisconnecting)
	m.generation++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopHeartbeatLocked()

	if m.socket != nil {
		if err := m.socket.Close(types.CloseNormal, "Client closing connection"); err != nil {
			m.logger.Debug("socket close failed", zap.Error(err))
		}
		m.socket = nil
	}

	m.setStateLocked(types.StateDisconnected)
	m.logger.Info("connection closed by client")
}

// Cleanup removes every hub subscriber and closes the connection.
func (m *Manager) Cleanup() {
	m.hub.Clear()
	m.SafeClose()
}

// State returns the current connection state.
func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueueLen returns the number of messages waiting to be sent.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// PendingMessages returns the queued messages, oldest first.
func (m *Manager) PendingMessages() []types.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// ReconnectAttempts returns how many reconnects were scheduled since the
// last successful open.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Attempt()
}

// Room returns the room name for the current user and peer, or "" when
// either is unknown.
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID <= 0 || m.peerID <= 0 {
		return ""
	}
	return types.RoomName(m.userID, m.peerID)
}

func (m *Manager) connectLocked() error {
	if m.token == "" || m.userID <= 0 || m.peerID <= 0 {
		return fmt.Errorf("%w: token present=%t user=%d peer=%d",
			ErrMissingParameters, m.token != "", m.userID, m.peerID)
	}
	if m.state == types.StateConnecting || m.state == types.StateConnected {
		m.logger.Debug("connect ignored, socket already active", zap.String("state", string(m.state)))
		return nil
	}

	room := types.RoomName(m.userID, m.peerID)
	target := strings.TrimRight(m.cfg.BaseURL, "/") + "/ws/chat/" + room + "/?token=" + url.QueryEscape(m.token)

	m.generation++
	gen := m.generation
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	m.cancelDial = cancel
	m.setStateLocked(types.StateConnecting)

	m.logger.Info("connecting",
		zap.String("room", room),
		zap.String("url", websocket.RedactURL(target)),
		zap.Uint64("generation", gen))

	go m.dial(ctx, cancel, gen, target)
	return nil
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, target string) {
	defer cancel()
	sock, err := m.dialer.Dial(ctx, target)

	m.mu.Lock()
	if gen != m.generation || m.state != types.StateConnecting {
		m.unlock()
		if err == nil {
			_ = sock.Close(types.CloseNormal, "superseded")
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.emitLocked(hub.ErrorEvent{Err: fmt.Errorf("%w: %v", ErrTransport, err)})
		m.handleCloseLocked(gen, types.CloseAbnormal, "dial failed")
		m.unlock()
		return
	}

	m.socket = sock
	m.handleOpenLocked()
	m.unlock()

	go m.readLoop(gen, sock)
}

func (m *Manager) handleOpenLocked() {
	m.setStateLocked(types.StateConnected)
	m.backoff.Reset()
	m.cancelReconnectLocked()
	m.logger.Info("connected", zap.Uint64("generation", m.generation))
	m.flushLocked()
	m.startHeartbeatLocked()
}

func (m *Manager) readLoop(gen uint64, sock interfaces.Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseCode(err)
			m.mu.Lock()
			// A drop without a close frame is reported before the reconnect.
			if !websocket.IsCloseFrame(err) && gen == m.generation && m.state == types.StateConnected {
				m.logger.Warn("connection lost", zap.Error(err))
				m.emitLocked(hub.ErrorEvent{Err: fmt.Errorf("%w: connection lost: %v", ErrTransport, err)})
			}
			m.handleCloseLocked(gen, code, reason)
			m.unlock()
			return
		}
		m.handleFrame(gen, sock, data)
	}
}

func (m *Manager) handleFrame(gen uint64, sock interfaces.Socket, data []byte) {
	frame, err := types.ParseFrame(data)
	if err != nil {
		m.metrics.RecordFrame("malformed")
		m.logger.Warn("dropping undecodable frame", zap.Error(err))
		m.publishIfCurrent(gen, hub.ErrorEvent{Err: fmt.Errorf("%w: %v", ErrTransport, err)})
		return
	}
	m.metrics.RecordFrame(frame.Kind())

	switch f := frame.(type) {
	case types.HeartbeatFrame:
		m.mu.Lock()
		current := gen == m.generation
		if current {
			m.lastHeartbeat = m.clock.Now()
		}
		m.mu.Unlock()
		if !current {
			return
		}
		if err := sock.WriteJSON(types.NewHeartbeatAck(f)); err != nil {
			m.publishIfCurrent(gen, hub.ErrorEvent{Err: fmt.Errorf("%w: heartbeat response: %v", ErrTransport, err)})
		}

	case types.ErrorFrame:
		m.logger.Warn("server reported error", zap.String("error", f.Error))
		m.publishIfCurrent(gen, hub.ErrorEvent{Err: fmt.Errorf("%w: %s", ErrServerError, f.Error)})

	case types.ChatPayload:
		m.publishIfCurrent(gen, hub.MessageEvent{Payload: f})
	}
}

// handleCloseLocked applies the close-code policy for the socket of
// generation gen.
func (m *Manager) handleCloseLocked(gen uint64, code int, reason string) {
	if gen != m.generation {
		return
	}
	if m.state != types.StateConnecting && m.state != types.StateConnected {
		return
	}

	m.generation++
	if m.socket != nil {
		_ = m.socket.Close(types.CloseAbnormal, "")
		m.socket = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopHeartbeatLocked()
	m.setStateLocked(types.StateDisconnected)

	m.logger.Info("connection closed", zap.Int("code", code), zap.String("reason", reason))

	switch code {
	case types.CloseAuthenticationFailed:
		m.emitLocked(hub.ErrorEvent{Err: fmt.Errorf("%w: %s", ErrAuthenticationFailed, reason)})
	case types.CloseInvalidRoom:
		m.emitLocked(hub.ErrorEvent{Err: fmt.Errorf("%w: %s", ErrInvalidRoom, reason)})
	case types.CloseNormal:
	default:
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) scheduleReconnectLocked() {
	m.cancelReconnectLocked()

	delay, ok := m.backoff.Next()
	if !ok {
		m.logger.Warn("reconnect attempts exhausted", zap.Int("max_attempts", m.backoff.MaxAttempts))
		m.emitLocked(hub.ErrorEvent{Err: ErrReconnectExhausted})
		return
	}

	m.metrics.IncReconnects()
	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", m.backoff.Attempt()),
		zap.Int("max_attempts", m.backoff.MaxAttempts),
		zap.Duration("delay", delay))

	seq := m.reconnectSeq
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.fireReconnect(seq) })
}

// cancelReconnectLocked stops the pending reconnect. Bumping the sequence
// also defeats a timer that already fired and is waiting for the lock.
func (m *Manager) cancelReconnectLocked() {
	m.reconnectSeq++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	live := seq == m.reconnectSeq
	m.mu.Unlock()
	if !live {
		return
	}

	// The REST façade may have refreshed the token since the last dial.
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	token, tokenErr := m.creds.CurrentAccessToken(ctx)
	cancel()

	m.mu.Lock()
	if seq != m.reconnectSeq {
		m.unlock()
		return
	}
	m.reconnectTimer = nil
	if m.state == types.StateConnected {
		m.unlock()
		return
	}
	if tokenErr != nil {
		m.logger.Warn("could not re-read access token, reusing previous", zap.Error(tokenErr))
	} else {
		m.token = token
	}
	err := m.connectLocked()
	m.unlock()

	if err != nil {
		m.fail(err)
	}
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	m.lastHeartbeat = m.clock.Now()
	seq := m.heartbeatSeq
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.checkHeartbeat(seq) })
}

func (m *Manager) stopHeartbeatLocked() {
	m.heartbeatSeq++
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

func (m *Manager) checkHeartbeat(seq uint64) {
	m.mu.Lock()
	defer m.unlock()

	if seq != m.heartbeatSeq || m.state != types.StateConnected {
		return
	}

	silence := m.clock.Now().Sub(m.lastHeartbeat)
	if silence > m.cfg.HeartbeatTimeout {
		m.metrics.IncHeartbeatTimeouts()
		m.logger.Warn("heartbeat timeout, dropping connection", zap.Duration("silence", silence))
		m.handleCloseLocked(m.generation, types.CloseAbnormal, "heartbeat timeout")
		return
	}

	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.checkHeartbeat(seq) })
}

func (m *Manager) transmitLocked(msg types.OutboundMessage) error {
	if err := m.socket.WriteJSON(types.NewChatMessageFrame(msg)); err != nil {
		m.logger.Warn("socket write failed",
			zap.String("client_id", msg.ClientID),
			zap.Error(err))
		return err
	}
	m.metrics.IncMessagesSent()
	return nil
}

// flushLocked writes queued messages oldest first. A message leaves the
// queue only after its write succeeded.
func (m *Manager) flushLocked() {
	if m.queue.Len() == 0 {
		return
	}

	sent := 0
	for m.state == types.StateConnected && m.socket != nil {
		msg, ok := m.queue.Peek()
		if !ok {
			break
		}
		if err := m.transmitLocked(msg); err != nil {
			break
		}
		m.queue.Pop()
		sent++
	}

	m.metrics.SetQueueDepth(m.queue.Len())
	if sent > 0 {
		m.logger.Info("flushed queued messages",
			zap.Int("sent", sent),
			zap.Int("remaining", m.queue.Len()))
	}
}

func (m *Manager) setStateLocked(state types.ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	m.metrics.SetConnectionState(state)
	m.emitLocked(hub.StateEvent{State: state})
}

func (m *Manager) emitLocked(ev hub.Event) {
	m.pending = append(m.pending, ev)
}

// unlock releases the mutex and then publishes the events collected while it
// was held.
func (m *Manager) unlock() {
	events := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, ev := range events {
		m.hub.Publish(ev)
	}
}

func (m *Manager) publishIfCurrent(gen uint64, ev hub.Event) {
	m.mu.Lock()
	current := gen == m.generation
	m.mu.Unlock()
	if current {
		m.hub.Publish(ev)
	}
}

func (m *Manager) fail(err error) error {
	m.hub.Publish(hub.ErrorEvent{Err: err})
	return err
}
