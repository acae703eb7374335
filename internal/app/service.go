// Package service wires the claim ledger, the tree provisioner, the mint
// coordinator and the reconciliation pool behind the operations the HTTP
// API exposes.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	eventqueue "github.com/okian/popclaim/internal/adapters/mq/queue"
	workerpool "github.com/okian/popclaim/internal/adapters/mq/worker"
	"github.com/okian/popclaim/internal/adapters/repository"
	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/claims"
	"github.com/okian/popclaim/internal/domain/cost"
	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/internal/domain/tree"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

const (
	defaultQueueSize     = 10_000
	defaultSweepInterval = 30 * time.Second
	defaultMaxList       = 1_000
	defaultClaimBaseURL  = "https://ctoken.pop/claim"
)

// Created is the outcome of event creation.
type Created struct {
	Event    model.Event   `json:"event"`
	Estimate cost.Estimate `json:"estimated_savings"`
}

// IssuedClaim is a new claim code with its distribution link.
type IssuedClaim struct {
	Code string `json:"claim_code"`
	Link string `json:"claim_link"`
}

// Stats summarises the service for monitoring.
type Stats struct {
	repository.Stats
	Started       bool `json:"started"`
	Workers       int  `json:"workers"`
	QueueLength   int  `json:"queue_length"`
	QueueCapacity int  `json:"queue_capacity"`
}

// SweepReport is the result of one maintenance pass.
type SweepReport struct {
	Attempts      mint.SweepResult `json:"attempts"`
	TreesResolved int              `json:"trees_resolved"`
}

// Service implements the API dependencies of the claim service.
type Service struct {
	mu sync.Mutex

	store       repository.Store
	chain       mint.Chain
	estimator   *cost.Estimator
	planner     tree.Planner
	provisioner *tree.Provisioner
	ledger      *claims.Ledger
	coordinator *mint.Coordinator
	queue       *eventqueue.InMemoryQueue
	pool        *workerpool.Pool

	workerCount   int
	queueSize     int
	sweepInterval time.Duration
	claimBaseURL  string
	maxList       int
	maxIssueBatch int
	mintOpts      []mint.Option
	treeOpts      []tree.Option

	started bool
	stopped bool
	cancel  context.CancelFunc
	sweeper sync.WaitGroup

	clock  clock.Clock
	logger logger.Logger
}

// New constructs a service over the store and the chain.
func New(store repository.Store, chain mint.Chain, opts ...Option) *Service {
	s := &Service{
		store:         store,
		chain:         chain,
		estimator:     cost.NewEstimator(),
		planner:       tree.NewPlanner(tree.DefaultMinDepth, tree.DefaultMaxDepth, tree.DefaultBuffer),
		workerCount:   runtime.NumCPU(),
		queueSize:     defaultQueueSize,
		sweepInterval: defaultSweepInterval,
		claimBaseURL:  defaultClaimBaseURL,
		maxList:       defaultMaxList,
		clock:         clock.NewSystem(),
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithBufferSize(s.queueSize),
	)
	ledgerOpts := []claims.Option{
		claims.WithLogger(s.logger.Named("claims")),
		claims.WithClock(s.clock),
	}
	if s.maxIssueBatch > 0 {
		ledgerOpts = append(ledgerOpts, claims.WithMaxBatch(s.maxIssueBatch))
	}
	s.ledger = claims.New(store, ledgerOpts...)
	s.coordinator = mint.NewCoordinator(chain, s.ledger, append([]mint.Option{
		mint.WithLogger(s.logger.Named("mint")),
		mint.WithClock(s.clock),
		mint.WithQueue(s.queue),
	}, s.mintOpts...)...)
	s.provisioner = tree.NewProvisioner(chain, store, append([]tree.Option{
		tree.WithPlanner(s.planner),
		tree.WithLogger(s.logger.Named("tree")),
		tree.WithClock(s.clock),
	}, s.treeOpts...)...)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.coordinator,
		workerpool.WithLogger(s.logger.Named("reconcile")))
	return s
}

// Start runs the reconciliation workers and the sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pool.Start(runCtx)
	if s.sweepInterval > 0 {
		s.sweeper.Add(1)
		go s.sweepLoop(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "claim service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("sweepInterval", s.sweepInterval),
	)
	return nil
}

// Stop shuts the workers down and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	var err error
	if s.started {
		s.logger.Info(ctx, "stopping claim service...")
		s.cancel()
		s.sweeper.Wait()
		if perr := s.pool.Shutdown(ctx); perr != nil {
			err = perr
		}
		s.started = false
	} else {
		_ = s.queue.Close()
	}
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	s.logger.Info(ctx, "claim service stopped")
	return err
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.sweeper.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn(ctx, "sweep failed", logger.Error(err))
			}
		}
	}
}

// Sweep reconciles stale claim attempts and settles pending trees.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	res, err := s.coordinator.Sweep(ctx)
	rep.Attempts = res
	if err != nil {
		return rep, err
	}

	pending, err := s.store.ListPendingTrees(ctx, s.maxList)
	if err != nil {
		return rep, fmt.Errorf("list pending trees: %w", err)
	}
	for _, ev := range pending {
		ref, err := s.provisioner.Resolve(ctx, ev.ID, ev.Tree)
		if err != nil {
			s.logger.Warn(ctx, "pending tree not resolved", logger.String("eventID", ev.ID), logger.Error(err))
			continue
		}
		if ref.State != model.TreePending {
			rep.TreesResolved++
		}
	}
	if res.Scanned > 0 || rep.TreesResolved > 0 {
		s.logger.Debug(ctx, "sweep finished",
			logger.Int("scanned", res.Scanned),
			logger.Int("enqueued", res.Enqueued),
			logger.Int("released", res.Released),
			logger.Int("treesResolved", rep.TreesResolved))
	}
	return rep, nil
}

// CreateEvent validates the event, records it, provisions its tree and
// estimates the savings of compressed minting for its supply. The event is
// returned even when provisioning fails so the caller sees the tree state.
func (s *Service) CreateEvent(ctx context.Context, meta model.EventMetadata, maxSupply int) (Created, error) {
	const op = "service.create_event"
	if err := meta.Validate(); err != nil {
		return Created{}, err
	}
	params, err := s.provisioner.Plan(maxSupply)
	if err != nil {
		return Created{}, err
	}
	est, err := s.estimator.EstimateDefault(maxSupply)
	if err != nil {
		return Created{}, err
	}

	now := s.clock.Now()
	ev := model.Event{
		ID:        uuid.NewString(),
		Metadata:  meta,
		MaxSupply: maxSupply,
		Tree:      model.TreeRef{Params: params, State: model.TreePending, UpdatedAt: now},
		CreatedAt: now,
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return Created{}, fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordEventCreated()

	ref, err := s.provisioner.Provision(ctx, ev.ID, maxSupply)
	if ref.State != "" {
		ev.Tree = ref
	}
	out := Created{Event: ev, Estimate: est}
	if err != nil {
		return out, err
	}
	s.logger.Info(ctx, "event created",
		logger.String("eventID", ev.ID),
		logger.String("tree", ev.Tree.Address),
		logger.Int("maxSupply", maxSupply),
		logger.Int("capacity", params.Capacity))
	return out, nil
}

// GetEvent returns an event with its counters.
func (s *Service) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	return s.ledger.Event(ctx, eventID)
}

// ListEvents returns events newest first.
func (s *Service) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.store.ListEvents(ctx, s.limit(limit))
}

// IssueClaims issues up to count codes. Codes issued before a failure are
// returned with the error.
func (s *Service) IssueClaims(ctx context.Context, eventID string, count int) ([]IssuedClaim, error) {
	issued, err := s.ledger.IssueBatch(ctx, eventID, count)
	out := make([]IssuedClaim, 0, len(issued))
	for _, c := range issued {
		out = append(out, IssuedClaim{Code: c.Code, Link: claims.Link(s.claimBaseURL, eventID, c.Code)})
	}
	return out, err
}

// MaxIssueBatch returns the largest accepted IssueClaims count.
func (s *Service) MaxIssueBatch() int { return s.ledger.MaxBatch() }

// LookupClaim returns the state of one claim.
func (s *Service) LookupClaim(ctx context.Context, eventID, code string) (model.Claim, error) {
	return s.ledger.Lookup(ctx, eventID, code)
}

// ListClaims returns the claims of an event in issue order.
func (s *Service) ListClaims(ctx context.Context, eventID string, limit int) ([]model.Claim, error) {
	return s.ledger.List(ctx, eventID, s.limit(limit))
}

// ListMints returns the mint records of an event.
func (s *Service) ListMints(ctx context.Context, eventID string, limit int) ([]model.MintRecord, error) {
	return s.ledger.Records(ctx, eventID, s.limit(limit))
}

// Claim redeems a claim code for the recipient wallet.
func (s *Service) Claim(ctx context.Context, eventID, code, recipient string) (model.MintRecord, error) {
	return s.coordinator.Claim(ctx, eventID, code, recipient)
}

// Estimate compares compressed and regular minting with explicit unit costs.
func (s *Service) Estimate(tokenCount int, regular, compressed decimal.Decimal) (cost.Estimate, error) {
	metrics.RecordCostEstimate()
	return s.estimator.Estimate(tokenCount, regular, compressed)
}

// EstimateDefault compares with the configured unit costs.
func (s *Service) EstimateDefault(tokenCount int) (cost.Estimate, error) {
	metrics.RecordCostEstimate()
	return s.estimator.EstimateDefault(tokenCount)
}

// Stats returns service statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	qlen := s.queue.Len(ctx)
	metrics.UpdateQueueSize(qlen)
	metrics.UpdateTotalEvents(st.Events)
	metrics.UpdatePendingClaims(st.OpenAttempts)
	return Stats{
		Stats:         st,
		Started:       started,
		Workers:       s.pool.Size(),
		QueueLength:   qlen,
		QueueCapacity: s.queueSize,
	}, nil
}

func (s *Service) limit(n int) int {
	if n <= 0 || n > s.maxList {
		return s.maxList
	}
	return n
}
