package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carechat/internal/logging"
	"carechat/pkg/interfaces"
)

// Connection is a client chat socket.
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer, so every
// data frame goes through writeCh to a single writer goroutine. Reads belong
// to whoever calls ReadMessage, which must be a single goroutine.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	closeCh      chan closeFrame
	writeTimeout time.Duration
	logger       *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when writeLoop exits
	closing   atomic.Bool
	closeOnce sync.Once
}

type closeFrame struct {
	code   int
	reason string
}

var _ interfaces.Socket = (*Connection)(nil)

// NewConnection wraps an established gorilla connection and starts its
// writer.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		closeCh:      make(chan closeFrame, 1),
		writeTimeout: writeTimeout,
		logger:       logging.OrNop(logger).Named("socket"),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	defer close(c.done)

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.logger.Debug("socket write failed", zap.Error(err))
				c.cancel()
				return
			}

		case frame := <-c.closeCh:
			// Frames accepted before Close still go out ahead of the close frame.
			c.drain()
			err := c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(frame.code, frame.reason),
				time.Now().Add(c.writeTimeout),
			)
			if err != nil {
				c.logger.Debug("close frame not sent", zap.Error(err))
			}
			return

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) drain() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON encodes v and hands it to the writer. It fails once the
// connection is closing or the writer has stopped.
func (c *Connection) WriteJSON(v interface{}) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage returns the next data frame. Close frames and transport
// failures surface as errors; see CloseCode.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close sends a close frame with code and reason, then closes the
// connection. CloseAbnormal skips the handshake. Only the first call has an
// effect.
func (c *Connection) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		if code != websocket.CloseAbnormalClosure {
			c.closeCh <- closeFrame{code: code, reason: reason}
			timer := time.NewTimer(c.writeTimeout)
			select {
			case <-c.done:
			case <-timer.C:
			}
			timer.Stop()
		}

		c.cancel()
		err = c.conn.Close()
		<-c.done
	})
	return err
}
