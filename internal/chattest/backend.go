// Package chattest runs an in-process chat backend for tests: the
// authentication probe and refresh endpoints, the chat REST endpoints and the
// chat socket.
package chattest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"carechat/pkg/types"
)

// Backend is a fake chat server. Tokens must be registered with AcceptToken
// before they authenticate.
type Backend struct {
	Server *httptest.Server

	upgrader websocket.Upgrader

	mu        sync.Mutex
	tokens    map[string]int64
	refreshes map[string]grant
	users     []types.UserSummary
	history   []types.HistoryMessage
	rooms     map[string]*peerConn
	received  []Frame
	probes    int
	refreshed int
	dials     int
	rejectWS  int
}

// Frame is one frame the backend read from a client socket.
type Frame struct {
	Room   string
	Fields map[string]interface{}
}

type grant struct {
	access string
	userID int64
}

type peerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peerConn) write(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return p.conn.WriteJSON(v)
}

func (p *peerConn) close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = p.conn.Close()
}

// NewBackend starts the server and stops it when t finishes.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		tokens:    make(map[string]int64),
		refreshes: make(map[string]grant),
		rooms:     make(map[string]*peerConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth-app/api/authenticated/", b.handleProbe)
	mux.HandleFunc("/auth-app/api/token/refresh/", b.handleRefresh)
	mux.HandleFunc("/chat/api/get-messages/", b.authed(b.handleHistory))
	mux.HandleFunc("/chat/api/send/", b.authed(b.handleSend))
	mux.HandleFunc("/chat/api/search/", b.authed(b.handleSearch))
	mux.HandleFunc("/chat/api/read/", b.authed(b.handleRead))
	mux.HandleFunc("/ws/chat/", b.handleSocket)

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// Close drops every socket and stops the server.
func (b *Backend) Close() {
	b.mu.Lock()
	rooms := b.rooms
	b.rooms = make(map[string]*peerConn)
	b.mu.Unlock()
	for _, pc := range rooms {
		_ = pc.conn.Close()
	}
	b.Server.Close()
}

// URL is the REST base URL.
func (b *Backend) URL() string {
	return b.Server.URL
}

// WSURL is the socket base URL.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http")
}

// AcceptToken makes token authenticate as userID.
func (b *Backend) AcceptToken(token string, userID int64) {
	b.mu.Lock()
	b.tokens[token] = userID
	b.mu.Unlock()
}

// RevokeToken makes token fail the probe with 401.
func (b *Backend) RevokeToken(token string) {
	b.mu.Lock()
	delete(b.tokens, token)
	b.mu.Unlock()
}

// AcceptRefresh makes refresh exchangeable for access, which then
// authenticates as userID.
func (b *Backend) AcceptRefresh(refresh, access string, userID int64) {
	b.mu.Lock()
	b.refreshes[refresh] = grant{access: access, userID: userID}
	b.mu.Unlock()
}

// AddUser makes u searchable.
func (b *Backend) AddUser(u types.UserSummary) {
	b.mu.Lock()
	b.users = append(b.users, u)
	b.mu.Unlock()
}

// RejectSockets makes every following socket close immediately with code.
// Zero accepts sockets again.
func (b *Backend) RejectSockets(code int) {
	b.mu.Lock()
	b.rejectWS = code
	b.mu.Unlock()
}

// Received returns the frames read from client sockets so far.
func (b *Backend) Received() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.received...)
}

// ChatMessages returns the bodies of chat_message frames received in room.
func (b *Backend) ChatMessages(room string) []string {
	var out []string
	for _, f := range b.Received() {
		if f.Room == room && f.Fields["type"] == types.FrameTypeChatMessage {
			if s, ok := f.Fields["message"].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// History returns the messages stored through the REST send endpoint.
func (b *Backend) History() []types.HistoryMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.HistoryMessage(nil), b.history...)
}

// Counts reports how many probes, refreshes and socket dials were served.
func (b *Backend) Counts() (probes, refreshes, dials int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probes, b.refreshed, b.dials
}

// Connected reports whether a client socket is open for room.
func (b *Backend) Connected(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[room]
	return ok
}

// Push writes frame to the client connected to room.
func (b *Backend) Push(room string, frame interface{}) error {
	b.mu.Lock()
	pc, ok := b.rooms[room]
	b.mu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return pc.write(frame)
}

// Heartbeat sends a heartbeat with timestamp ts to room.
func (b *Backend) Heartbeat(room string, ts interface{}) error {
	return b.Push(room, map[string]interface{}{"type": types.FrameTypeHeartbeat, "timestamp": ts})
}

// Disconnect closes room's socket with code.
func (b *Backend) Disconnect(room string, code int, reason string) {
	b.mu.Lock()
	pc, ok := b.rooms[room]
	delete(b.rooms, room)
	b.mu.Unlock()
	if ok {
		pc.close(code, reason)
	}
}

func (b *Backend) bearer(r *http.Request) (int64, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return b.lookup(token)
}

func (b *Backend) lookup(token string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.tokens[token]
	return id, ok
}

func (b *Backend) authed(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := b.bearer(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid"})
			return
		}
		next(w, r, userID)
	}
}

func (b *Backend) handleProbe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.probes++
	b.mu.Unlock()

	if _, ok := b.bearer(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}

	b.mu.Lock()
	b.refreshed++
	g, ok := b.refreshes[req.Refresh]
	if ok {
		b.tokens[g.access] = g.userID
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": g.access})
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request, userID int64) {
	b.mu.Lock()
	var out []types.HistoryMessage
	for _, m := range b.history {
		if m.Sender == userID || m.Receiver == userID {
			out = append(out, m)
		}
	}
	b.mu.Unlock()
	if out == nil {
		out = []types.HistoryMessage{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleSend(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	var req types.OutboundMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" || req.Receiver <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "receiver and message are required"})
		return
	}

	b.mu.Lock()
	msg := types.HistoryMessage{
		ID:       int64(len(b.history) + 1),
		Sender:   userID,
		Receiver: req.Receiver,
		Message:  req.Message,
		Date:     time.Now().UTC().Truncate(time.Second),
	}
	b.history = append(b.history, msg)
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, msg)
}

func (b *Backend) handleSearch(w http.ResponseWriter, r *http.Request, _ int64) {
	query := strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/api/search/"), "/")
	if query == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	b.mu.Lock()
	out := []types.UserSummary{}
	for _, u := range b.users {
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(query)) {
			out = append(out, u)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleRead(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodPut {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	peer, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/api/read/"), "/"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	b.mu.Lock()
	for i := range b.history {
		if b.history[i].Sender == peer && b.history[i].Receiver == userID {
			b.history[i].IsRead = true
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Messages marked as read"})
}

// handleSocket serves /ws/chat/<room>/?token=<token>. Unknown tokens close
// with 4001 and rooms the user is not part of with 4002.
func (b *Backend) handleSocket(w http.ResponseWriter, r *http.Request) {
	room := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/chat/"), "/")

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	pc := &peerConn{conn: conn}

	b.mu.Lock()
	b.dials++
	reject := b.rejectWS
	b.mu.Unlock()

	if reject != 0 {
		pc.close(reject, "rejected")
		return
	}
	userID, ok := b.lookup(r.URL.Query().Get("token"))
	if !ok {
		pc.close(types.CloseAuthenticationFailed, "Authentication failed")
		return
	}
	if !roomHasUser(room, userID) {
		pc.close(types.CloseInvalidRoom, "Invalid room")
		return
	}

	b.mu.Lock()
	if old, exists := b.rooms[room]; exists {
		_ = old.conn.Close()
	}
	b.rooms[room] = pc
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var fields map[string]interface{}
		if json.Unmarshal(data, &fields) != nil {
			continue
		}
		b.mu.Lock()
		b.received = append(b.received, Frame{Room: room, Fields: fields})
		b.mu.Unlock()
	}

	b.mu.Lock()
	if b.rooms[room] == pc {
		delete(b.rooms, room)
	}
	b.mu.Unlock()
	_ = conn.Close()
}

func roomHasUser(room string, userID int64) bool {
	parts := strings.Split(room, "_")
	if len(parts) != 2 {
		return false
	}
	id := strconv.FormatInt(userID, 10)
	return parts[0] == id || parts[1] == id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
