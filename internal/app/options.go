package service

import (
	"time"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/cost"
	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/tree"
	"github.com/okian/popclaim/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service and its components.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source shared by the components.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPlanner sets the tree shape bounds.
func WithPlanner(p tree.Planner) Option {
	return func(s *Service) { s.planner = p }
}

// WithEstimator sets the cost estimator.
func WithEstimator(e *cost.Estimator) Option {
	return func(s *Service) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithWorkerCount sets the number of reconciliation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the reconciliation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSweepInterval sets how often stale attempts and pending trees are
// revisited. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.sweepInterval = d
		}
	}
}

// WithClaimBaseURL sets the prefix of generated claim links.
func WithClaimBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.claimBaseURL = base
		}
	}
}

// WithMaxListLimit caps list operations.
func WithMaxListLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxList = n
		}
	}
}

// WithMaxIssueBatch caps the codes issued per call.
func WithMaxIssueBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxIssueBatch = n
		}
	}
}

// WithMintOptions passes options through to the mint coordinator.
func WithMintOptions(opts ...mint.Option) Option {
	return func(s *Service) { s.mintOpts = append(s.mintOpts, opts...) }
}

// WithTreeOptions passes options through to the tree provisioner.
func WithTreeOptions(opts ...tree.Option) Option {
	return func(s *Service) { s.treeOpts = append(s.treeOpts, opts...) }
}
