// Package claims is the claim ledger: it issues claim codes, answers
// lookups and moves claims to consumed at most once.
package claims

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/okian/popclaim/internal/adapters/repository"
	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

const (
	codeBytes       = 16
	maxCodeRetries  = 5
	defaultMaxBatch = 10_000
)

// CodeSource produces claim codes.
type CodeSource func() (string, error)

// RandomCode returns 16 random bytes encoded in base58.
func RandomCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base58.Encode(b), nil
}

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(led *Ledger) {
		if l != nil {
			led.log = l
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(led *Ledger) {
		if c != nil {
			led.clock = c
		}
	}
}

// WithCodeSource replaces the claim code generator.
func WithCodeSource(src CodeSource) Option {
	return func(led *Ledger) {
		if src != nil {
			led.codes = src
		}
	}
}

// WithMaxBatch caps IssueBatch.
func WithMaxBatch(n int) Option {
	return func(led *Ledger) {
		if n > 0 {
			led.maxBatch = n
		}
	}
}

// Ledger tracks the claims of every event.
type Ledger struct {
	store    repository.Store
	log      logger.Logger
	clock    clock.Clock
	codes    CodeSource
	maxBatch int
}

// New creates a ledger over store.
func New(store repository.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		log:      logger.Nop(),
		clock:    clock.NewSystem(),
		codes:    RandomCode,
		maxBatch: defaultMaxBatch,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxBatch is the largest accepted IssueBatch count.
func (l *Ledger) MaxBatch() int { return l.maxBatch }

// Issue records a new claim code for the event.
func (l *Ledger) Issue(ctx context.Context, eventID string) (model.Claim, error) {
	const op = "claims.issue"
	ev, err := l.store.GetEvent(ctx, eventID)
	if err != nil {
		return model.Claim{}, err
	}
	if !ev.Tree.Ready() {
		return model.Claim{}, model.NewKindMsg(op, model.ErrInvalidInput, "event tree is not ready")
	}
	if ev.Issued >= ev.MaxSupply {
		return model.Claim{}, model.NewKind(op, model.ErrSupplyExhausted)
	}
	c, err := l.insert(ctx, eventID)
	if err != nil {
		return model.Claim{}, err
	}
	metrics.RecordClaimsIssued(1)
	return c, nil
}

func (l *Ledger) insert(ctx context.Context, eventID string) (model.Claim, error) {
	const op = "claims.insert"
	for range maxCodeRetries {
		code, err := l.codes()
		if err != nil {
			return model.Claim{}, fmt.Errorf("%s: %w", op, err)
		}
		c := model.Claim{EventID: eventID, Code: code, State: model.ClaimIssued, IssuedAt: l.clock.Now()}
		err = l.store.InsertClaim(ctx, c)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return model.Claim{}, err
		}
		return c, nil
	}
	return model.Claim{}, fmt.Errorf("%s: no unique code after %d attempts", op, maxCodeRetries)
}

// IssueBatch issues up to n codes. When the supply runs out part way it
// returns the codes issued so far together with model.ErrSupplyExhausted.
func (l *Ledger) IssueBatch(ctx context.Context, eventID string, n int) ([]model.Claim, error) {
	const op = "claims.issue_batch"
	if n <= 0 || n > l.maxBatch {
		return nil, model.NewKindMsg(op, model.ErrInvalidInput, fmt.Sprintf("count must be within [1, %d]", l.maxBatch))
	}
	ev, err := l.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.Tree.Ready() {
		return nil, model.NewKindMsg(op, model.ErrInvalidInput, "event tree is not ready")
	}

	out := make([]model.Claim, 0, min(n, ev.MaxSupply-ev.Issued+1))
	defer func() { metrics.RecordClaimsIssued(len(out)) }()
	for range n {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%s: %w", op, err)
		}
		c, err := l.insert(ctx, eventID)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	l.log.Info(ctx, "claims issued", logger.String("eventID", eventID), logger.Int("count", len(out)))
	return out, nil
}

// Event returns the event that owns the claims.
func (l *Ledger) Event(ctx context.Context, eventID string) (model.Event, error) {
	return l.store.GetEvent(ctx, eventID)
}

// Lookup returns the claim without side effects.
func (l *Ledger) Lookup(ctx context.Context, eventID, code string) (model.Claim, error) {
	return l.store.GetClaim(ctx, eventID, code)
}

// List returns the claims of an event.
func (l *Ledger) List(ctx context.Context, eventID string, limit int) ([]model.Claim, error) {
	return l.store.ListClaims(ctx, eventID, limit)
}

// Consume moves the claim to consumed with signature. A repeat returns the
// original record with model.ErrAlreadyConsumed; a repeat with a different
// signature is an integrity violation.
func (l *Ledger) Consume(ctx context.Context, eventID, code, recipient, signature string) (model.MintRecord, error) {
	rec, err := l.store.Consume(ctx, eventID, code, recipient, signature, l.clock.Now())
	switch {
	case err == nil:
		metrics.RecordClaimConsumed()
	case errors.Is(err, model.ErrIntegrity):
		metrics.RecordIntegrityViolation()
		l.log.Error(ctx, "claim consumed twice with different signatures",
			logger.String("eventID", eventID),
			logger.String("claimCode", code),
			logger.String("original", rec.Signature),
			logger.String("signature", signature))
	}
	return rec, err
}

// Begin leases an issued claim to a new attempt for recipient. A claim held
// by another attempt yields model.ErrClaimPending with the current claim.
func (l *Ledger) Begin(ctx context.Context, eventID, code, recipient string) (model.Attempt, model.Claim, error) {
	const op = "claims.begin"
	a := model.Attempt{
		ID:        uuid.NewString(),
		Status:    model.AttemptInFlight,
		Recipient: recipient,
		StartedAt: l.clock.Now(),
	}
	c, err := l.store.BeginAttempt(ctx, eventID, code, a)
	if errors.Is(err, repository.ErrAttemptExists) {
		return model.Attempt{}, c, model.WrapKind(op, model.ErrClaimPending, err)
	}
	if err != nil {
		return model.Attempt{}, c, err
	}
	return a, c, nil
}

// RecordSubmission stores the signature of the attempt's transaction.
func (l *Ledger) RecordSubmission(ctx context.Context, eventID, code, attemptID, signature string) error {
	return l.store.RecordSubmission(ctx, eventID, code, attemptID, signature, l.clock.Now())
}

// MarkUnconfirmed flags the attempt for reconciliation.
func (l *Ledger) MarkUnconfirmed(ctx context.Context, eventID, code, attemptID string) error {
	return l.store.MarkUnconfirmed(ctx, eventID, code, attemptID)
}

// Release drops the attempt's lease.
func (l *Ledger) Release(ctx context.Context, eventID, code, attemptID string) error {
	return l.store.ReleaseAttempt(ctx, eventID, code, attemptID)
}

// Pending returns claims holding a lease, oldest first.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]model.Claim, error) {
	return l.store.ListAttempts(ctx, limit)
}

// Records returns the mint records of an event.
func (l *Ledger) Records(ctx context.Context, eventID string, limit int) ([]model.MintRecord, error) {
	return l.store.ListMintRecords(ctx, eventID, limit)
}
