package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"carechat/internal/httpclient"
	"carechat/internal/logging"
	"carechat/internal/metrics"
	"carechat/pkg/types"
)

// Endpoint paths relative to the API base URL.
const (
	HistoryPath  = "/chat/api/get-messages/"
	SendPath     = "/chat/api/send/"
	searchPrefix = "/chat/api/search/"
	readPrefix   = "/chat/api/read/"
)

// HeaderSource resolves the headers an authenticated request needs.
type HeaderSource interface {
	AuthorizedHeaders(ctx context.Context) (http.Header, error)
}

// Client is the request/response façade over the chat REST endpoints.
// ARCHITECTURAL DISCOVERY: Every call resolves headers first, so an expired
// access token is refreshed here and the next socket dial picks it up from
// the credential store.
type Client struct {
	http    *httpclient.Client
	creds   HeaderSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a façade sending through httpClient.
func NewClient(httpClient *httpclient.Client, creds HeaderSource, opts ...Option) *Client {
	c := &Client{http: httpClient, creds: creds}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Named("api")
	return c
}

// GetHistory returns the local user's conversation history.
func (c *Client) GetHistory(ctx context.Context) ([]types.HistoryMessage, error) {
	var out []types.HistoryMessage
	if err := c.do(ctx, "get_history", http.MethodGet, HistoryPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendViaREST stores a message through the REST endpoint instead of the
// socket. The message is validated before any request is made.
func (c *Client) SendViaREST(ctx context.Context, msg types.OutboundMessage) (types.HistoryMessage, error) {
	var out types.HistoryMessage
	if err := msg.Validate(); err != nil {
		return out, err
	}
	err := c.do(ctx, "send", http.MethodPost, SendPath, msg, &out)
	return out, err
}

// Search looks users up by username.
func (c *Client) Search(ctx context.Context, username string) ([]types.UserSummary, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyQuery
	}

	var out []types.UserSummary
	path := searchPrefix + url.PathEscape(username) + "/"
	if err := c.do(ctx, "search", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead marks every message from peerID as read.
func (c *Client) MarkRead(ctx context.Context, peerID int64) (types.StatusMessage, error) {
	var out types.StatusMessage
	if peerID <= 0 {
		return out, ErrInvalidPeer
	}
	path := readPrefix + strconv.FormatInt(peerID, 10) + "/"
	err := c.do(ctx, "mark_read", http.MethodPut, path, struct{}{}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	start := time.Now()

	// Credential errors reach the caller unchanged.
	headers, err := c.creds.AuthorizedHeaders(ctx)
	if err != nil {
		c.metrics.RecordAPIRequest(op, "credentials", time.Since(start))
		return err
	}

	req, err := c.http.Request(ctx)
	if err != nil {
		c.metrics.RecordAPIRequest(op, "network", time.Since(start))
		return fmt.Errorf("%s: %w: %v", op, ErrNetworkError, err)
	}
	req.SetHeaderMultiValues(headers)
	if body != nil {
		req.SetBody(body)
	}
	requestID := req.Header.Get(httpclient.RequestIDHeader)

	resp, err := req.Execute(method, path)
	if err != nil {
		c.metrics.RecordAPIRequest(op, "network", time.Since(start))
		c.logger.Warn("request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("%s: %w: %v", op, ErrNetworkError, err)
	}

	status := resp.StatusCode()
	c.metrics.RecordAPIRequest(op, strconv.Itoa(status), time.Since(start))
	c.logger.Debug("request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", status),
		zap.Duration("duration", resp.Time()))

	if sentinel := statusError(status); sentinel != nil {
		return fmt.Errorf("%s: %w (status %d): %s", op, sentinel, status, snippet(resp.Body()))
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServerError
	default:
		return ErrRequestRejected
	}
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
