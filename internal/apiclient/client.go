package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storefront.org/internal/ids"
	"storefront.org/internal/market"
	"storefront.org/internal/obs"
)

const (
	defaultTimeout = 10 * time.Second
	maxTimeout     = 2 * time.Minute
	retryDelay     = 250 * time.Millisecond
	maxBodyBytes   = 4 << 20

	headerRequestID   = "X-Request-ID"
	headerIdempotency = "Idempotency-Key"
)

// CredentialSource supplies the bearer token for outgoing requests.
type CredentialSource interface {
	AccessToken() (string, bool)
}

// UnauthorizedHandler is invoked once for every 401 response outside the
// credential exchange. path is the request path relative to the base URL and
// token is the bearer token the rejected request carried ("" if none).
type UnauthorizedHandler func(path, token string)

// Client talks to the storefront REST API.
type Client struct {
	base      string
	http      *http.Client
	timeout   time.Duration
	retry     bool
	limiter   *rate.Limiter
	userAgent string

	mu             sync.RWMutex
	creds          CredentialSource
	onUnauthorized UnauthorizedHandler
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is still
// wrapped with request metrics.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every attempt. Values outside (0, 2m] fall back to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 && d <= maxTimeout {
			c.timeout = d
		}
	}
}

// WithRetry toggles the single retry of idempotent requests.
func WithRetry(enabled bool) Option {
	return func(c *Client) { c.retry = enabled }
}

// WithRateLimit throttles outgoing requests. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithCredentials sets the bearer token source.
func WithCredentials(src CredentialSource) Option {
	return func(c *Client) { c.creds = src }
}

// WithUnauthorizedHandler sets the 401 hook.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(c *Client) { c.onUnauthorized = h }
}

// New creates a client for the API rooted at baseURL (e.g. http://host/api).
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		base:      baseURL,
		http:      &http.Client{},
		timeout:   defaultTimeout,
		retry:     true,
		userAgent: "storefront-client",
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	hc.Transport = obs.InstrumentTransport(hc.Transport)
	c.http = &hc
	return c, nil
}

// SetCredentials replaces the bearer token source.
func (c *Client) SetCredentials(src CredentialSource) {
	c.mu.Lock()
	c.creds = src
	c.mu.Unlock()
}

// SetUnauthorizedHandler replaces the 401 hook.
func (c *Client) SetUnauthorizedHandler(h UnauthorizedHandler) {
	c.mu.Lock()
	c.onUnauthorized = h
	c.mu.Unlock()
}

// AttachCredential sets the bearer header when a token is available and
// leaves the request untouched otherwise.
func (c *Client) AttachCredential(req *http.Request) *http.Request {
	if token := c.credential(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (c *Client) credential() string {
	c.mu.RLock()
	src := c.creds
	c.mu.RUnlock()
	if src == nil {
		return ""
	}
	token, ok := src.AccessToken()
	if !ok {
		return ""
	}
	return token
}

type call struct {
	method         string
	path           string
	query          url.Values
	body           any
	form           url.Values
	idempotencyKey string
	// credentialExchange marks the login request: its 401 is a bad
	// credential, not an expired session.
	credentialExchange bool
}

type response struct {
	status    int
	requestID string
	token     string
	body      []byte
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	payload, contentType, err := encodeBody(cl)
	if err != nil {
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s %s: %v", market.ErrNetworkFailure, cl.method, cl.path, err)
		}
	}

	retryable := c.retry && isIdempotent(cl)
	requestID := ids.New()

	var (
		last    response
		lastErr error
	)
	attempt := func() (struct{}, error) {
		last, lastErr = c.attempt(ctx, cl, payload, contentType, requestID)
		if lastErr != nil {
			if !retryable || ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(lastErr)
			}
			return struct{}{}, lastErr
		}
		if retryable && retryableStatus(last.status) {
			return struct{}{}, fmt.Errorf("status %d", last.status)
		}
		return struct{}{}, nil
	}

	tries := uint(1)
	if retryable {
		tries = 2
	}
	_, _ = backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(retryDelay)),
		backoff.WithMaxTries(tries),
	)

	if lastErr != nil {
		return fmt.Errorf("%w: %s %s: %v", market.ErrNetworkFailure, cl.method, cl.path, lastErr)
	}
	return c.handle(cl, last, out)
}

func (c *Client) attempt(ctx context.Context, cl call, payload []byte, contentType, requestID string) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if cl.idempotencyKey != "" {
		req.Header.Set(headerIdempotency, cl.idempotencyKey)
	}
	token := c.credential()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		obs.Logger().Debug("api request failed",
			zap.String("method", cl.method),
			zap.String("path", cl.path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("read body: %w", err)
	}
	obs.Logger().Debug("api request",
		zap.String("method", cl.method),
		zap.String("path", cl.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", requestID),
	)
	rid := resp.Header.Get(headerRequestID)
	if rid == "" {
		rid = requestID
	}
	return response{status: resp.StatusCode, requestID: rid, token: token, body: data}, nil
}

func (c *Client) handle(cl call, resp response, out any) error {
	if resp.status >= 200 && resp.status < 300 {
		if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", cl.method, cl.path, err)
		}
		return nil
	}

	rerr := &market.RemoteError{
		Kind:      market.ErrRemoteRejection,
		Status:    resp.status,
		Message:   extractMessage(resp.body),
		RequestID: resp.requestID,
	}
	switch {
	case cl.credentialExchange && isCredentialRejection(resp.status):
		rerr.Kind = market.ErrAuthenticationFailure
	case resp.status == http.StatusUnauthorized:
		rerr.Kind = market.ErrAuthorizationFailure
		c.mu.RLock()
		hook := c.onUnauthorized
		c.mu.RUnlock()
		if hook != nil {
			hook(cl.path, resp.token)
		}
	}
	return rerr
}

func encodeBody(cl call) ([]byte, string, error) {
	switch {
	case cl.form != nil:
		return []byte(cl.form.Encode()), "application/x-www-form-urlencoded", nil
	case cl.body != nil:
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s %s body: %w", cl.method, cl.path, err)
		}
		return data, "application/json", nil
	default:
		return nil, "", nil
	}
}

func isIdempotent(cl call) bool {
	switch cl.method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	case http.MethodPost:
		return cl.idempotencyKey != ""
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func isCredentialRejection(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusBadRequest || code == http.StatusForbidden
}

// extractMessage reads the human readable part of an error body. It accepts
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"message": "..."} and
// {"error": "..."}.
func extractMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ""
	}
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := detailMessage(payload.Detail); msg != "" {
		return msg
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	msgs := make([]string, 0, len(items))
	for _, it := range items {
		if m := strings.TrimSpace(it.Msg); m != "" {
			msgs = append(msgs, m)
		}
	}
	return strings.Join(msgs, "; ")
}

// IsUnauthorized reports whether err came from a 401 response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, market.ErrAuthorizationFailure)
}
