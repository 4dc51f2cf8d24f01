package agentrelay

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the gateway base URL (e.g., "http://localhost:8080").
// If not set, defaults to the AGENTRELAY_SERVER_ADDR environment variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to 30 seconds; agent queries can be slow, size
// this to your runtime.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSessionID attaches the client to an existing session instead of
// starting fresh on Initialize.
func WithSessionID(id string) Option {
	return func(c *Client) {
		c.sessionID = id
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
