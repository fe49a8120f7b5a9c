// Package gateway is the HTTP client for the tovplay REST API. It injects
// the bearer token, normalizes failures into *Error and exposes one typed
// method per endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/tovplay/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenSource supplies and revokes the bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	// BaseURL is the server root; "/api" is appended.
	BaseURL string
	Timeout time.Duration
	// RateLimitRPS <= 0 disables client-side throttling.
	RateLimitRPS   float64
	RateLimitBurst int
	HTTPClient     *http.Client
	Tokens         TokenSource
	// OnUnauthorized runs after a 401 cleared the token.
	OnUnauthorized func()
	Logger         *zap.Logger
}

// Client talks to the REST API.
type Client struct {
	base           string
	http           *http.Client
	limiter        *rate.Limiter
	tokens         TokenSource
	onUnauthorized func()
	logger         *zap.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:           strings.TrimRight(opts.BaseURL, "/") + "/api",
		http:           hc,
		limiter:        rate.NewLimiter(limit, burst),
		tokens:         opts.Tokens,
		onUnauthorized: opts.OnUnauthorized,
		logger:         logger,
	}
}

// BaseURL returns the API root including the /api prefix.
func (c *Client) BaseURL() string { return c.base }

// EndpointOther labels calls made through the generic verbs, whose paths
// may carry ids.
const EndpointOther = "other"

// Get, Post, Put and Delete call an arbitrary path below the API root.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, EndpointOther, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, EndpointOther, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, EndpointOther, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, EndpointOther, nil, out)
}

func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Warn("read auth token", zap.Error(err))
		return ""
	}
	return tok
}

// do performs one request. endpoint is the route template used as the
// metrics label so ids do not explode label cardinality.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = KindOf(err).String()
		}
		metrics.ObserveGateway(method, endpoint, result, start)
	}()

	fail := func(kind ErrorKind, status int, msg string, cause error) error {
		return &Error{Kind: kind, Status: status, Method: method, Path: path, Message: msg, Err: cause}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(KindNetwork, 0, "", err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fail(KindValidation, 0, "encode request body", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fail(KindValidation, 0, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Trace-ID", uuid.NewString())
	if tok := c.token(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api transport error",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fail(KindNetwork, 0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(KindNetwork, resp.StatusCode, "read response body", err)
	}

	if resp.StatusCode >= 400 {
		kind := kindForStatus(resp.StatusCode)
		msg := errorMessage(raw, resp.StatusCode)
		c.logger.Debug("api error",
			zap.String("method", method), zap.String("path", path),
			zap.Int("status", resp.StatusCode), zap.String("error", msg))
		if kind == KindUnauthorized {
			c.expire(ctx)
		}
		return fail(kind, resp.StatusCode, msg, nil)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fail(KindServer, resp.StatusCode, "malformed response body", err)
	}
	return nil
}

// expire clears the stored token and signals the owner, like a browser
// session-expired event.
func (c *Client) expire(ctx context.Context) {
	if c.tokens != nil {
		// The request context may already be done; clearing must still happen.
		if err := c.tokens.ClearToken(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("clear auth token", zap.Error(err))
		}
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// errorMessage pulls "error" or "message" out of a JSON error body.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
		return http.StatusText(status)
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 200 && !strings.HasPrefix(s, "<") {
		return s
	}
	return http.StatusText(status)
}

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
