package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"carechat/internal/chat"
	"carechat/internal/hub"
	"carechat/internal/logging"
	"carechat/pkg/types"
)

// maxSendBody bounds a POST /api/messages body. The longest valid message,
// JSON-escaped, fits well inside it.
const maxSendBody = 64 << 10

// ChatClient is the slice of the connection manager the server exposes.
type ChatClient interface {
	State() types.ConnectionState
	Room() string
	QueueLen() int
	ReconnectAttempts() int
	Send(msg types.OutboundMessage) (chat.SendResult, error)
}

// HubStats reports subscriber counts.
type HubStats interface {
	Stats() hub.Stats
}

// HealthChecker is implemented by credential backends that can be probed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: The local status server is a pure adapter over the
// running client. It owns no chat state and only translates HTTP to manager
// calls and JSON.
type Server struct {
	chat    ChatClient
	hub     HubStats
	store   HealthChecker
	metrics http.Handler
	started time.Time
	logger  *zap.Logger
	router  *http.ServeMux
}

// NewServer wires the routes. store and metrics may be nil.
func NewServer(chatClient ChatClient, hubStats HubStats, store HealthChecker, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		chat:    chatClient,
		hub:     hubStats,
		store:   store,
		metrics: metrics,
		started: time.Now(),
		logger:  logging.OrNop(logger).Named("status"),
		router:  http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/status", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStatus))))
	s.router.Handle("/api/messages", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMessages))))
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status     string                `json:"status"`
	Timestamp  time.Time             `json:"timestamp"`
	Uptime     string                `json:"uptime"`
	Store      string                `json:"store"`
	Connection types.ConnectionState `json:"connection"`
}

type StatusResponse struct {
	State             types.ConnectionState `json:"state"`
	Room              string                `json:"room"`
	QueueLength       int                   `json:"queue_length"`
	ReconnectAttempts int                   `json:"reconnect_attempts"`
	Subscribers       hub.Stats             `json:"subscribers"`
}

type SendRequest struct {
	Receiver int64  `json:"receiver"`
	Message  string `json:"message"`
}

type SendResponse struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /health reports 503 only when the credential
// store is unreachable. A dropped socket is reported but is not unhealthy,
// since the manager reconnects on its own.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Store:      "healthy",
		Connection: s.chat.State(),
	}
	if s.store != nil {
		if err := s.store.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Store = fmt.Sprintf("error: %v", err)
		}
	}

	if resp.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		State:             s.chat.State(),
		Room:              s.chat.Room(),
		QueueLength:       s.chat.QueueLen(),
		ReconnectAttempts: s.chat.ReconnectAttempts(),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Stats()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// POST /api/messages hands a message to the connection manager. 200 means
// it was written to the socket, 202 that it is queued.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	result, err := s.chat.Send(types.OutboundMessage{Receiver: req.Receiver, Message: req.Message})
	if err != nil {
		if errors.Is(err, types.ErrInvalidMessage) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("send failed", zap.Error(err))
		s.sendError(w, "Failed to send message", http.StatusInternalServerError)
		return
	}

	if result == chat.Queued {
		w.WriteHeader(http.StatusAccepted)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(SendResponse{Result: result.String()})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
