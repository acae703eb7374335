package simulated

import (
	"time"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/pkg/logger"
)

// Option applies a configuration option to the Chain.
type Option func(*Chain)

// WithLatency sets the range of simulated round-trip latency.
func WithLatency(low, high time.Duration) Option {
	return func(c *Chain) {
		if low < 0 || high < low {
			return
		}
		c.latencyMin, c.latencyMax = low, high
	}
}

// WithSubmitFailureRate sets the share of submissions rejected outright.
func WithSubmitFailureRate(p float64) Option {
	return func(c *Chain) { c.submitFailRate = clamp(p) }
}

// WithUnknownRate sets the share of submissions whose response is lost.
// Half of those still land.
func WithUnknownRate(p float64) Option {
	return func(c *Chain) { c.unknownRate = clamp(p) }
}

// WithProvisionFailureRate sets the share of tree creations that fail.
func WithProvisionFailureRate(p float64) Option {
	return func(c *Chain) { c.provisionFailRate = clamp(p) }
}

// WithPollInterval sets how often Confirm re-checks a signature.
func WithPollInterval(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithSeed makes failure injection reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Chain) { c.seed = seed }
}

// WithClock sets the time source used for confirmation delays.
func WithClock(clk clock.Clock) Option {
	return func(c *Chain) {
		if clk != nil {
			c.clock = clk
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

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
