package mint

import (
	"time"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithQueue sets where unconfirmed attempts are sent. Without a queue the
// sweeper reconciles inline.
func WithQueue(q Enqueuer) Option {
	return func(c *Coordinator) { c.queue = q }
}

// WithSubmitTimeout bounds building and sending a mint.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

// WithConfirmTimeout bounds the confirmation wait.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// WithBlockhashTTL sets how long an unseen transaction can still land.
func WithBlockhashTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.blockhashTTL = d
		}
	}
}

// WithLeaseTTL sets how long an in-flight attempt may hold a claim before
// the sweeper treats its request as dead.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.leaseTTL = d
		}
	}
}

// WithSymbol sets the token symbol minted for every event.
func WithSymbol(s string) Option {
	return func(c *Coordinator) {
		if s != "" {
			c.symbol = s
		}
	}
}

// WithSweepLimit caps the attempts one sweep looks at.
func WithSweepLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.sweepLimit = n
		}
	}
}
