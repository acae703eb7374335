package solana

import (
	"net/http"
	"time"

	"github.com/okian/popclaim/pkg/logger"
)

// Option applies a configuration option to the Chain.
type Option func(*Chain)

// WithPollInterval sets how often Confirm re-checks a signature.
func WithPollInterval(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithCommitment sets the commitment treated as confirmed: confirmed or finalized.
func WithCommitment(level string) Option {
	return func(c *Chain) {
		if level == commitmentConfirmed || level == commitmentFinalized {
			c.commitment = level
		}
	}
}

// WithHTTPClient replaces the HTTP client of the raw JSON-RPC calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Chain) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.log = l
		}
	}
}
