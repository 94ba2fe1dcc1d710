package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"carechat/internal/config"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// recordingServer upgrades every request and records what the client sends.
type recordingServer struct {
	*httptest.Server

	mu        sync.Mutex
	messages  []string
	closeCode int
	closeText string
	closed    chan struct{}
	onConnect func(conn *websocket.Conn)
}

func newRecordingServer(t *testing.T, onConnect func(conn *websocket.Conn)) *recordingServer {
	t.Helper()
	rs := &recordingServer{closed: make(chan struct{}), onConnect: onConnect}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if rs.onConnect != nil {
			rs.onConnect(conn)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				code, text := CloseCode(err)
				rs.mu.Lock()
				rs.closeCode, rs.closeText = code, text
				rs.mu.Unlock()
				close(rs.closed)
				return
			}
			rs.mu.Lock()
			rs.messages = append(rs.messages, string(data))
			rs.mu.Unlock()
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http") + "/ws/chat/3_7/?token=secret"
}

func (rs *recordingServer) waitClosed(t *testing.T) (int, string, []string) {
	t.Helper()
	select {
	case <-rs.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection close")
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.closeCode, rs.closeText, append([]string(nil), rs.messages...)
}

func testDialer() *Dialer {
	cfg := config.DefaultConfig().WebSocket
	cfg.WriteTimeout = time.Second
	cfg.ConnectTimeout = time.Second
	return NewDialer(cfg, nil)
}

func TestConnection_WritesThenClosesNormally(t *testing.T) {
	srv := newRecordingServer(t, nil)
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, sock.WriteJSON(map[string]string{"type": "chat_message", "message": text}))
	}
	require.NoError(t, sock.Close(websocket.CloseNormalClosure, "Client closing connection"))

	code, text, messages := srv.waitClosed(t)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, "Client closing connection", text)
	require.Len(t, messages, 3, "frames written before Close must be delivered")
	assert.JSONEq(t, `{"type":"chat_message","message":"one"}`, messages[0])
	assert.JSONEq(t, `{"type":"chat_message","message":"three"}`, messages[2])
}

func TestConnection_NoGoroutineLeak(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	srv := newRecordingServer(t, nil)
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)
	require.NoError(t, sock.WriteJSON(map[string]string{"type": "chat_message"}))
	require.NoError(t, sock.Close(websocket.CloseNormalClosure, ""))
	srv.waitClosed(t)
	srv.Close()

	goleak.VerifyNone(t, ignore)
}

func TestConnection_AbnormalCloseSkipsHandshake(t *testing.T) {
	srv := newRecordingServer(t, nil)
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)

	require.NoError(t, sock.Close(websocket.CloseAbnormalClosure, ""))

	code, _, _ := srv.waitClosed(t)
	assert.Equal(t, websocket.CloseAbnormalClosure, code)
}

func TestConnection_ReadsServerFrames(t *testing.T) {
	srv := newRecordingServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat","timestamp":1}`))
	})
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)
	defer sock.Close(websocket.CloseNormalClosure, "")

	data, err := sock.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartbeat","timestamp":1}`, string(data))
}

func TestConnection_ServerCloseCodeSurfaces(t *testing.T) {
	srv := newRecordingServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "Authentication failed"))
	})
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)
	defer sock.Close(websocket.CloseAbnormalClosure, "")

	_, err = sock.ReadMessage()
	require.Error(t, err)
	code, text := CloseCode(err)
	assert.Equal(t, 4001, code)
	assert.Equal(t, "Authentication failed", text)
}

func TestConnection_WriteAfterClose(t *testing.T) {
	srv := newRecordingServer(t, nil)
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)

	require.NoError(t, sock.Close(websocket.CloseNormalClosure, ""))
	assert.ErrorIs(t, sock.WriteJSON(map[string]string{"x": "y"}), ErrConnectionClosed)
	assert.NoError(t, sock.Close(websocket.CloseNormalClosure, ""), "second close is a no-op")
}

func TestConnection_InvalidJSON(t *testing.T) {
	srv := newRecordingServer(t, nil)
	sock, err := testDialer().Dial(context.Background(), srv.wsURL())
	require.NoError(t, err)
	defer sock.Close(websocket.CloseNormalClosure, "")

	assert.ErrorIs(t, sock.WriteJSON(make(chan int)), ErrInvalidJSON)
}

func TestDialer_Failure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := testDialer().Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/?token=secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NotContains(t, err.Error(), "secret", "token must not leak into errors")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = testDialer().Dial(ctx, "ws://127.0.0.1:1/")
	assert.Error(t, err)
}

func TestCloseCode(t *testing.T) {
	code, text := CloseCode(&websocket.CloseError{Code: 4002, Text: "Invalid room"})
	assert.Equal(t, 4002, code)
	assert.Equal(t, "Invalid room", text)

	code, _ = CloseCode(errors.New("connection reset by peer"))
	assert.Equal(t, websocket.CloseAbnormalClosure, code)
}

func TestIsCloseFrame(t *testing.T) {
	assert.True(t, IsCloseFrame(fmt.Errorf("read: %w", &websocket.CloseError{Code: 1011})))
	assert.False(t, IsCloseFrame(errors.New("connection reset by peer")))
	assert.False(t, IsCloseFrame(nil))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t,
		"ws://host/ws/chat/3_7/?token=REDACTED",
		RedactURL("ws://host/ws/chat/3_7/?token=abc.def.ghi"))
	assert.Equal(t, "ws://host/ws/", RedactURL("ws://host/ws/"))
}
