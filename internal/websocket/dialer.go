package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carechat/internal/config"
	"carechat/internal/logging"
	"carechat/pkg/interfaces"
)

// Dialer opens chat sockets with gorilla's client.
type Dialer struct {
	dialer       *websocket.Dialer
	bufferSize   int
	writeTimeout time.Duration
	logger       *zap.Logger
}

var _ interfaces.Dialer = (*Dialer)(nil)

func NewDialer(cfg *config.WebSocketConfig, logger *zap.Logger) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		bufferSize:   cfg.SendBufferSize,
		writeTimeout: cfg.WriteTimeout,
		logger:       logging.OrNop(logger),
	}
}

// Dial connects to rawURL. ctx bounds the handshake only.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (interfaces.Socket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("dial %s: handshake status %d: %w", RedactURL(rawURL), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", RedactURL(rawURL), err)
	}
	return NewConnection(conn, d.bufferSize, d.writeTimeout, d.logger), nil
}

// CloseCode extracts the close code and reason from a read error. Errors
// that are not close frames count as abnormal closure (1006).
func CloseCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// IsCloseFrame reports whether err carries a close frame from the peer, as
// opposed to a connection that failed without one.
func IsCloseFrame(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

// RedactURL hides the token query parameter so URLs can be logged.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
