package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/queue"
)

// Collector API paths.
const (
	PathAuth         = "/v1/user/save"
	PathEvent        = "/v1/event/track"
	PathProfile      = "/v1/user/update"
	PathConclude     = "/v1/session/conclude"
	PathKeepAlive    = "/v1/session/keepAlive"
	PathPushToken    = "/v1/user/setPushToken"
	TokenKey         = "sdk_token"
	HeaderSDKToken   = "x-sdk-token"
	HeaderIdempotent = "Idempotency-Key"
)

var endpoints = map[queue.TaskType]string{
	queue.TaskTypeEvent:            PathEvent,
	queue.TaskTypeProfile:          PathProfile,
	queue.TaskTypeSessionConcluded: PathConclude,
	queue.TaskTypeKeepAlive:        PathKeepAlive,
	queue.TaskTypePushToken:        PathPushToken,
}

// Endpoint returns the collector path for typ.
func Endpoint(typ queue.TaskType) (string, bool) {
	p, ok := endpoints[typ]
	return p, ok
}

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// Client sends task payloads to the collector.
// Zero value is not usable; use New to create instances.
type Client struct {
	base      *url.URL
	http      *http.Client
	timeout   time.Duration
	creds     Credentials
	store     kv.Store
	breaker   *CircuitBreaker
	headers   http.Header
	userAgent string
	logger    *slog.Logger

	// serializes token acquisition so concurrent deliveries share one auth call
	tokenMu sync.Mutex
}

// New creates a collector client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		base: u,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:   10 * time.Second,
		store:     kv.NewMemoryStore(),
		headers:   make(http.Header),
		userAgent: "engagekit/1.0",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Deliver posts one task payload to the endpoint for typ. idempotencyKey,
// when set, lets the collector drop duplicates of an at-least-once delivery.
func (c *Client) Deliver(ctx context.Context, typ queue.TaskType, payload json.RawMessage, idempotencyKey string) error {
	path, ok := Endpoint(typ)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	if c.breaker != nil && !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	err := c.deliver(ctx, path, payload, idempotencyKey)
	c.record(err)
	return err
}

func (c *Client) deliver(ctx context.Context, path string, payload json.RawMessage, idempotencyKey string) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	h := http.Header{}
	h.Set(HeaderSDKToken, token)
	if idempotencyKey != "" {
		h.Set(HeaderIdempotent, idempotencyKey)
	}

	_, err = c.post(ctx, path, payload, h)
	if StatusCode(err) == http.StatusUnauthorized {
		c.logger.WarnContext(ctx, "sdk token rejected, clearing",
			logger.Component("collector"))
		if derr := c.ClearToken(ctx); derr != nil {
			return errors.Join(err, derr)
		}
	}
	return err
}

// record feeds the breaker. Only failures that say something about the
// collector's health count: transport errors, 5xx and 429.
func (c *Client) record(err error) {
	if c.breaker == nil {
		return
	}
	switch code := StatusCode(err); {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, ErrTransport), code >= 500, code == http.StatusTooManyRequests:
		c.breaker.RecordFailure()
	default:
		c.breaker.Release()
	}
}

// Token returns the stored SDK token, acquiring and persisting one first if
// none is stored.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	stored, err := c.store.Get(ctx, TokenKey)
	if err == nil && len(stored) > 0 {
		return string(stored), nil
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return "", fmt.Errorf("load sdk token: %w", err)
	}

	body, err := json.Marshal(c.creds)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, PathAuth, body, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		SDKToken string `json:"sdkToken"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("%w: decode auth response: %w", ErrServer, err)
	}
	if out.SDKToken == "" {
		return "", ErrNoToken
	}

	if err := c.store.Set(ctx, TokenKey, []byte(out.SDKToken)); err != nil {
		return "", fmt.Errorf("persist sdk token: %w", err)
	}

	c.logger.InfoContext(ctx, "sdk token acquired", logger.Component("collector"))
	return out.SDKToken, nil
}

// ClearToken forgets the stored SDK token.
func (c *Client) ClearToken(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	err := c.store.Delete(ctx, TokenKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

// post sends body to path and returns the response body of a 2xx reply.
func (c *Client) post(ctx context.Context, path string, body []byte, h http.Header) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	for k, vs := range h {
		req.Header[k] = vs
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", ErrTransport, path, err)
	}

	c.logger.DebugContext(ctx, "collector request",
		logger.Component("collector"),
		slog.String("path", path),
		logger.StatusCode(resp.StatusCode),
		logger.Duration(time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DeliveryError{Path: path, StatusCode: resp.StatusCode, Body: sanitize(data)}
	}
	return data, nil
}

// sanitize flattens and truncates a response body for safe logging.
func sanitize(body []byte) string {
	s := strings.ReplaceAll(string(body), "\n", " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
