package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"carechat/internal/config"
	"carechat/internal/logging"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Client is the HTTP transport shared by the credential resolver and the REST
// façade.
// ARCHITECTURAL DISCOVERY: resty builds requests, retryablehttp retries
// connection failures and 5xx of idempotent requests underneath it, and a
// token bucket throttles callers before either runs.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a client for cfg.BaseURL.
func New(cfg *config.APIConfig, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger).Named("http")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = &leveledLogger{logger: logger.Sugar()}
	// TECHNICAL DISCOVERY: The default handler turns an exhausted 5xx into an
	// error and discards the body; passing the last response through keeps
	// the status code for the caller's error mapping.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.CheckRetry = idempotentRetryPolicy

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "carechat/1.0").
		SetLogger(logger.Sugar()).
		OnBeforeRequest(markSingleAttempt)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		logger:  logger,
	}
}

// Request waits for a rate-limit token and returns a request bound to ctx
// with a fresh request id.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.resty.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, uuid.NewString()), nil
}

// BaseURL returns the backend root all relative paths resolve against.
func (c *Client) BaseURL() string {
	return c.resty.BaseURL
}

type singleAttemptKey struct{}

// markSingleAttempt tags non-idempotent requests so the retry policy sends
// them once. It runs before resty builds the raw request, so the tag reaches
// retryablehttp through the request context.
func markSingleAttempt(_ *resty.Client, r *resty.Request) error {
	if !idempotent(r.Method) {
		r.SetContext(context.WithValue(r.Context(), singleAttemptKey{}, true))
	}
	return nil
}

// FUNCTIONAL DISCOVERY: A POST that failed with a 5xx or a dropped connection
// may already have been applied. Token refreshes and chat sends are POSTs, so
// a retry could consume a rotated refresh token or deliver a message twice.
func idempotentRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if once, _ := ctx.Value(singleAttemptKey{}).(bool); once {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// leveledLogger routes retryablehttp's logs through zap.
type leveledLogger struct {
	logger *zap.SugaredLogger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)
