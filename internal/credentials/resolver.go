package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"carechat/internal/httpclient"
	"carechat/internal/logging"
	"carechat/internal/metrics"
)

// Backend endpoints used to validate and refresh the session.
const (
	ProbePath   = "/auth-app/api/authenticated/"
	RefreshPath = "/auth-app/api/token/refresh/"
)

// Resolver produces authorized request headers, refreshing the access token
// when the backend rejects it.
// ARCHITECTURAL DISCOVERY: Refresh runs inside a singleflight group, so any
// number of concurrent 401s cost one refresh call and share its outcome.
type Resolver struct {
	store   *Store
	client  *httpclient.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
	group   singleflight.Group

	mu        sync.RWMutex
	onExpired func()
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithSessionExpiredHandler registers fn to run once per failed refresh,
// after the store has been cleared. It is the client's cue to log in again.
func WithSessionExpiredHandler(fn func()) Option {
	return func(r *Resolver) { r.onExpired = fn }
}

func NewResolver(store *Store, client *httpclient.Client, opts ...Option) *Resolver {
	r := &Resolver{store: store, client: client}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).Named("credentials")
	return r
}

// OnSessionExpired replaces the session-expired callback.
func (r *Resolver) OnSessionExpired(fn func()) {
	r.mu.Lock()
	r.onExpired = fn
	r.mu.Unlock()
}

// AuthorizedHeaders validates the stored access token against the backend and
// returns headers carrying it. A rejected token is refreshed exactly once.
func (r *Resolver) AuthorizedHeaders(ctx context.Context) (http.Header, error) {
	token, err := r.store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoToken
	}

	status, err := r.probe(ctx, token)
	if err != nil {
		return nil, err
	}

	switch {
	case status >= 200 && status < 300:
		return authHeaders(token), nil
	case status == http.StatusUnauthorized:
		fresh, err := r.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		return authHeaders(fresh), nil
	default:
		return nil, fmt.Errorf("%w: status %d", ErrProbeFailed, status)
	}
}

// CurrentAccessToken returns the stored token without probing it.
func (r *Resolver) CurrentAccessToken(ctx context.Context) (string, error) {
	return r.store.AccessToken(ctx)
}

// CurrentUserID returns the local user's id, or 0 when unknown.
func (r *Resolver) CurrentUserID(ctx context.Context) (int64, error) {
	return r.store.UserID(ctx)
}

func (r *Resolver) probe(ctx context.Context, token string) (int, error) {
	req, err := r.client.Request(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := req.SetAuthToken(token).Get(ProbePath)
	if err != nil {
		return 0, fmt.Errorf("authentication probe: %w", err)
	}
	return resp.StatusCode(), nil
}

// refresh exchanges the refresh token for a new access token. stale is the
// token the caller saw rejected.
func (r *Resolver) refresh(ctx context.Context, stale string) (string, error) {
	v, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		// The flight outlives the first caller's cancellation; the others
		// are still waiting on it.
		ctx := context.WithoutCancel(ctx)

		current, err := r.store.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if current == "" {
			return nil, fmt.Errorf("%w: credentials were cleared", ErrSessionExpired)
		}
		if current != stale {
			r.logger.Debug("access token already refreshed")
			return current, nil
		}
		return r.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logger.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (r *Resolver) doRefresh(ctx context.Context) (string, error) {
	refreshToken, err := r.store.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", r.expire(ctx, errors.New("no refresh token stored"))
	}

	req, err := r.client.Request(ctx)
	if err != nil {
		return "", r.expire(ctx, err)
	}
	resp, err := req.SetBody(refreshRequest{Refresh: refreshToken}).Post(RefreshPath)
	if err != nil {
		return "", r.expire(ctx, fmt.Errorf("refresh request: %w", err))
	}
	if !resp.IsSuccess() {
		return "", r.expire(ctx, fmt.Errorf("refresh rejected with status %d", resp.StatusCode()))
	}

	var body refreshResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", r.expire(ctx, fmt.Errorf("decode refresh response: %w", err))
	}
	if body.Access == "" {
		return "", r.expire(ctx, errors.New("refresh response has no access token"))
	}

	if err := r.store.ReplaceAccessToken(ctx, body.Access); err != nil {
		return "", err
	}
	if body.Refresh != "" {
		if err := r.store.ReplaceRefreshToken(ctx, body.Refresh); err != nil {
			return "", err
		}
	}

	r.metrics.RecordRefresh("success")
	r.logger.Info("access token refreshed", zap.Bool("refresh_rotated", body.Refresh != ""))
	return body.Access, nil
}

// expire clears the session and notifies the expired callback.
func (r *Resolver) expire(ctx context.Context, cause error) error {
	r.metrics.RecordRefresh("failure")
	r.logger.Warn("session expired", zap.Error(cause))

	if err := r.store.Clear(ctx); err != nil {
		r.logger.Error("failed to clear credentials", zap.Error(err))
	}

	r.mu.RLock()
	fn := r.onExpired
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}

	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}

func authHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h
}
