package collector

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/engagekit/pkg/kv"
)

// Credentials identify the app and device to the collector when requesting
// an SDK token.
type Credentials struct {
	AppID     string `json:"appID"`
	AppSecret string `json:"appSecret"`
	DeviceID  string `json:"deviceID"`
}

// Option is a functional option for configuring the Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCredentials sets the credentials sent to the auth endpoint.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithStore sets where the SDK token is persisted. Defaults to memory, which
// means a fresh token per process.
func WithStore(store kv.Store) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// WithCircuitBreaker enables circuit breaking across all endpoints.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if key != "" && value != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger for the client
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
