package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/metrics"
)

// MemoryStore is a sharded in-memory Store. Events are spread over shards
// by ID; one shard mutex serialises every mutation of the events it holds,
// their claims and their counters.
type MemoryStore struct {
	shards                []*shard
	shardCount            int
	metricsUpdateInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type shard struct {
	mu     sync.RWMutex
	events map[string]*eventEntry
}

type eventEntry struct {
	event  model.Event
	claims map[string]*model.Claim
	order  []string // claim codes in issue order
	mints  []model.MintRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store and starts its metrics updater,
// which stops with ctx or Close.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		shardCount:            defaultShardCount,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{events: make(map[string]*eventEntry)}
	}
	metrics.UpdateRepositoryShardCount(s.shardCount)

	mctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.startMetricsUpdater(mctx)
	return s
}

// Close stops background work.
func (s *MemoryStore) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) shardFor(eventID string) *shard {
	return s.shards[xxhash.Sum64String(eventID)%uint64(len(s.shards))]
}

func cloneClaim(c *model.Claim) model.Claim {
	out := *c
	if c.Attempt != nil {
		a := *c.Attempt
		out.Attempt = &a
	}
	return out
}

func observeWrite(start time.Time) { metrics.RecordRepositoryUpdateLatency(metrics.Since(start)) }
func observeRead(start time.Time)  { metrics.RecordRepositoryQueryLatency(metrics.Since(start)) }

// CreateEvent stores a new event.
func (s *MemoryStore) CreateEvent(_ context.Context, ev model.Event) error {
	const op = "repository.create_event"
	defer observeWrite(time.Now())

	sh := s.shardFor(ev.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.events[ev.ID]; ok {
		return model.NewKind(op, ErrDuplicate)
	}
	sh.events[ev.ID] = &eventEntry{event: ev, claims: make(map[string]*model.Claim)}
	return nil
}

// UpdateTree sets the tree of a pending event.
func (s *MemoryStore) UpdateTree(_ context.Context, eventID string, ref model.TreeRef) error {
	const op = "repository.update_tree"
	defer observeWrite(time.Now())

	sh := s.shardFor(eventID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.events[eventID]
	if !ok {
		return model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
	}
	if st := e.event.Tree.State; st == model.TreeReady || st == model.TreeFailed {
		return model.NewKind(op, ErrTreeFinal)
	}
	e.event.Tree = ref
	return nil
}

// GetEvent returns an event by ID.
func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (model.Event, error) {
	const op = "repository.get_event"
	defer observeRead(time.Now())

	sh := s.shardFor(eventID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.events[eventID]
	if !ok {
		return model.Event{}, model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
	}
	return e.event, nil
}

// ListEvents returns events newest first.
func (s *MemoryStore) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	defer observeRead(time.Now())
	out := s.collectEvents(func(model.Event) bool { return true })
	sortEventsNewestFirst(out)
	return truncate(out, limit), nil
}

// ListPendingTrees returns events whose tree is pending, oldest first.
func (s *MemoryStore) ListPendingTrees(_ context.Context, limit int) ([]model.Event, error) {
	defer observeRead(time.Now())
	out := s.collectEvents(func(ev model.Event) bool { return ev.Tree.State == model.TreePending })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) collectEvents(keep func(model.Event) bool) []model.Event {
	var out []model.Event
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.events {
			if keep(e.event) {
				out = append(out, e.event)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

func sortEventsNewestFirst(evs []model.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].CreatedAt.Equal(evs[j].CreatedAt) {
			return evs[i].CreatedAt.After(evs[j].CreatedAt)
		}
		return evs[i].ID < evs[j].ID
	})
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// InsertClaim stores an issued claim.
func (s *MemoryStore) InsertClaim(_ context.Context, c model.Claim) error {
	const op = "repository.insert_claim"
	defer observeWrite(time.Now())

	sh := s.shardFor(c.EventID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.events[c.EventID]
	if !ok {
		return model.NewKindMsg(op, model.ErrNotFound, "event "+c.EventID)
	}
	if _, taken := e.claims[c.Code]; taken {
		return model.NewKind(op, ErrDuplicate)
	}
	if e.event.Issued >= e.event.MaxSupply {
		return model.NewKind(op, model.ErrSupplyExhausted)
	}
	c.State = model.ClaimIssued
	c.Attempt = nil
	e.claims[c.Code] = &c
	e.order = append(e.order, c.Code)
	e.event.Issued++
	return nil
}

// GetClaim returns a claim by code.
func (s *MemoryStore) GetClaim(_ context.Context, eventID, code string) (model.Claim, error) {
	const op = "repository.get_claim"
	defer observeRead(time.Now())

	sh := s.shardFor(eventID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.events[eventID]
	if !ok {
		return model.Claim{}, model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
	}
	c, ok := e.claims[code]
	if !ok {
		return model.Claim{}, model.NewKindMsg(op, model.ErrNotFound, "claim")
	}
	return cloneClaim(c), nil
}

// ListClaims returns the claims of an event in issue order.
func (s *MemoryStore) ListClaims(_ context.Context, eventID string, limit int) ([]model.Claim, error) {
	const op = "repository.list_claims"
	defer observeRead(time.Now())

	sh := s.shardFor(eventID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.events[eventID]
	if !ok {
		return nil, model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
	}
	codes := truncate(e.order, limit)
	out := make([]model.Claim, 0, len(codes))
	for _, code := range codes {
		out = append(out, cloneClaim(e.claims[code]))
	}
	return out, nil
}

// withClaim runs fn on a claim under its shard's write lock.
func (s *MemoryStore) withClaim(op, eventID, code string, fn func(e *eventEntry, c *model.Claim) error) error {
	defer observeWrite(time.Now())
	sh := s.shardFor(eventID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.events[eventID]
	if !ok {
		return model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
	}
	c, ok := e.claims[code]
	if !ok {
		return model.NewKindMsg(op, model.ErrNotFound, "claim")
	}
	return fn(e, c)
}

// BeginAttempt leases an issued claim to an attempt.
func (s *MemoryStore) BeginAttempt(_ context.Context, eventID, code string, a model.Attempt) (model.Claim, error) {
	const op = "repository.begin_attempt"
	var out model.Claim
	err := s.withClaim(op, eventID, code, func(e *eventEntry, c *model.Claim) error {
		switch {
		case c.State == model.ClaimConsumed:
			out = cloneClaim(c)
			return model.NewKind(op, model.ErrAlreadyConsumed)
		case c.Attempt != nil:
			out = cloneClaim(c)
			return model.NewKind(op, ErrAttemptExists)
		case e.event.Minted >= e.event.MintLimit():
			out = cloneClaim(c)
			return model.NewKind(op, model.ErrSupplyExhausted)
		}
		a.Status = model.AttemptInFlight
		c.Attempt = &a
		out = cloneClaim(c)
		return nil
	})
	return out, err
}

func (s *MemoryStore) withAttempt(op, eventID, code, attemptID string, fn func(a *model.Attempt)) error {
	return s.withClaim(op, eventID, code, func(_ *eventEntry, c *model.Claim) error {
		if c.State != model.ClaimIssued || c.Attempt == nil || c.Attempt.ID != attemptID {
			return model.NewKind(op, ErrAttemptMismatch)
		}
		fn(c.Attempt)
		return nil
	})
}

// RecordSubmission stores the attempt's signature.
func (s *MemoryStore) RecordSubmission(_ context.Context, eventID, code, attemptID, signature string, at time.Time) error {
	return s.withAttempt("repository.record_submission", eventID, code, attemptID, func(a *model.Attempt) {
		a.Signature = signature
		a.SubmittedAt = at
	})
}

// MarkUnconfirmed flags the attempt for reconciliation.
func (s *MemoryStore) MarkUnconfirmed(_ context.Context, eventID, code, attemptID string) error {
	return s.withAttempt("repository.mark_unconfirmed", eventID, code, attemptID, func(a *model.Attempt) {
		a.Status = model.AttemptUnconfirmed
	})
}

// ReleaseAttempt drops the attempt's lease.
func (s *MemoryStore) ReleaseAttempt(_ context.Context, eventID, code, attemptID string) error {
	return s.withClaim("repository.release_attempt", eventID, code, func(_ *eventEntry, c *model.Claim) error {
		if c.Attempt != nil && c.Attempt.ID == attemptID {
			c.Attempt = nil
		}
		return nil
	})
}

// Consume moves a claim to consumed exactly once.
func (s *MemoryStore) Consume(_ context.Context, eventID, code, recipient, signature string, at time.Time) (model.MintRecord, error) {
	const op = "repository.consume"
	var rec model.MintRecord
	err := s.withClaim(op, eventID, code, func(e *eventEntry, c *model.Claim) error {
		if c.State == model.ClaimConsumed {
			rec = c.Record()
			if c.Signature != signature {
				return model.NewKindMsg(op, model.ErrIntegrity, "consumed with signature "+c.Signature)
			}
			return model.NewKind(op, model.ErrAlreadyConsumed)
		}
		c.State = model.ClaimConsumed
		c.Recipient = recipient
		c.Signature = signature
		c.ConsumedAt = at
		c.Attempt = nil
		e.event.Minted++
		rec = c.Record()
		e.mints = append(e.mints, rec)
		return nil
	})
	return rec, err
}

// ListAttempts returns leased claims, oldest lease first.
func (s *MemoryStore) ListAttempts(_ context.Context, limit int) ([]model.Claim, error) {
	defer observeRead(time.Now())
	var out []model.Claim
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.events {
			for _, c := range e.claims {
				if c.State == model.ClaimIssued && c.Attempt != nil {
					out = append(out, cloneClaim(c))
				}
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt.StartedAt.Before(out[j].Attempt.StartedAt) })
	return truncate(out, limit), nil
}

// ListMintRecords returns the mint records of an event.
func (s *MemoryStore) ListMintRecords(_ context.Context, eventID string, limit int) ([]model.MintRecord, error) {
	const op = "repository.list_mint_records"
	defer observeRead(time.Now())

	sh := s.shardFor(eventID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.events[eventID]
	if !ok {
		return nil, model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
	}
	return append([]model.MintRecord(nil), truncate(e.mints, limit)...), nil
}

// Stats summarises the stored state.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	var st Stats
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.events {
			st.Events++
			st.Claims += len(e.claims)
			st.MintRecords += len(e.mints)
			if e.event.Tree.State == model.TreePending {
				st.PendingTrees++
			}
			for _, c := range e.claims {
				switch {
				case c.Consumed():
					st.Consumed++
				case c.NeedsReconciliation():
					st.OpenAttempts++
					st.Unreconciled++
				case c.Attempt != nil:
					st.OpenAttempts++
				}
			}
		}
		sh.mu.RUnlock()
	}
	return st, nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateMetrics(ctx)
		}
	}
}

func (s *MemoryStore) updateMetrics(ctx context.Context) {
	st, err := s.Stats(ctx)
	if err != nil {
		return
	}
	metrics.UpdateRepositoryRecords("events", st.Events)
	metrics.UpdateRepositoryRecords("claims", st.Claims)
	metrics.UpdateRepositoryRecords("mints", st.MintRecords)
	metrics.UpdateTotalEvents(st.Events)
	metrics.UpdatePendingClaims(st.Unreconciled)
}
