// Package mint redeems claims: it validates a claim, mints its token leaf,
// waits for confirmation and only then consumes the claim.
package mint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/claims"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

const (
	defaultSubmitTimeout  = 15 * time.Second
	defaultConfirmTimeout = 45 * time.Second
	defaultBlockhashTTL   = 3 * time.Minute
	defaultLeaseTTL       = 2 * time.Minute
	defaultSymbol         = "POP"
	defaultSweepLimit     = 1000
)

// Phase is a step of a claim attempt.
type Phase string

// Claim phases, in order.
const (
	PhaseValidating Phase = "validating"
	PhaseMinting    Phase = "minting"
	PhaseConfirming Phase = "confirming"
	PhaseSettled    Phase = "settled"
)

// Coordinator runs claim attempts against the ledger and the chain.
type Coordinator struct {
	chain  Chain
	ledger *claims.Ledger
	queue  Enqueuer
	log    logger.Logger
	clock  clock.Clock
	group  singleflight.Group

	submitTimeout  time.Duration
	confirmTimeout time.Duration
	blockhashTTL   time.Duration
	leaseTTL       time.Duration
	symbol         string
	sweepLimit     int
}

// NewCoordinator creates a coordinator.
func NewCoordinator(chain Chain, ledger *claims.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		chain:          chain,
		ledger:         ledger,
		log:            logger.Nop(),
		clock:          clock.NewSystem(),
		submitTimeout:  defaultSubmitTimeout,
		confirmTimeout: defaultConfirmTimeout,
		blockhashTTL:   defaultBlockhashTTL,
		leaseTTL:       defaultLeaseTTL,
		symbol:         defaultSymbol,
		sweepLimit:     defaultSweepLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type flight struct {
	rec    model.MintRecord
	leader string
}

// Claim redeems a claim code for recipient. Concurrent calls for the same
// code in this process share one attempt: the caller that ran it gets the
// record, the others get the same record with model.ErrAlreadyConsumed.
func (c *Coordinator) Claim(ctx context.Context, eventID, code, recipient string) (model.MintRecord, error) {
	const op = "mint.claim"
	recipient = strings.TrimSpace(recipient)
	if err := ValidateAddress(recipient); err != nil {
		metrics.RecordClaimOutcome(outcomeOf(err))
		return model.MintRecord{}, err
	}

	token := uuid.NewString()
	v, err, shared := c.group.Do(eventID+"\x00"+code, func() (any, error) {
		rec, err := c.claim(ctx, eventID, code, recipient)
		return flight{rec: rec, leader: token}, err
	})
	f, _ := v.(flight)
	if shared && f.leader != token {
		metrics.RecordMintSharedAttempt()
		if err == nil {
			err = model.NewKind(op, model.ErrAlreadyConsumed)
		}
	}
	metrics.RecordClaimOutcome(outcomeOf(err))
	return f.rec, err
}

func (c *Coordinator) claim(ctx context.Context, eventID, code, recipient string) (model.MintRecord, error) {
	const op = "mint.claim"
	log := c.log.With(logger.String("eventID", eventID), logger.String("claimCode", code))
	log.Debug(ctx, "claim attempt", logger.String("phase", string(PhaseValidating)))

	cl, err := c.ledger.Lookup(ctx, eventID, code)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return model.MintRecord{}, model.NewKindMsg(op, model.ErrInvalidClaim, "unknown claim code")
	case err != nil:
		return model.MintRecord{}, fmt.Errorf("%s: %w", op, err)
	case cl.Consumed():
		return cl.Record(), model.NewKind(op, model.ErrAlreadyConsumed)
	case cl.Attempt != nil:
		if job, ok := model.JobFor(cl); ok && cl.NeedsReconciliation() {
			c.enqueue(ctx, job)
		}
		return model.MintRecord{}, model.NewKind(op, model.ErrClaimPending)
	}

	ev, err := c.ledger.Event(ctx, eventID)
	if err != nil {
		return model.MintRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ev.Tree.Ready() {
		return model.MintRecord{}, model.NewKindMsg(op, model.ErrInvalidClaim, "event tree is not ready")
	}
	if ev.Remaining() == 0 {
		return model.MintRecord{}, model.NewKind(op, model.ErrSupplyExhausted)
	}

	att, cur, err := c.ledger.Begin(ctx, eventID, code, recipient)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyConsumed) {
			return cur.Record(), err
		}
		return model.MintRecord{}, err
	}
	return c.mint(ctx, log, ev, code, att)
}

func (c *Coordinator) mint(ctx context.Context, log logger.Logger, ev model.Event, code string, att model.Attempt) (model.MintRecord, error) {
	const op = "mint.mint"
	log.Debug(ctx, "claim attempt", logger.String("phase", string(PhaseMinting)), logger.String("attemptID", att.ID))

	sctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	start := time.Now()
	tx, err := c.chain.BuildMint(sctx, Request{
		Tree:      ev.Tree,
		Recipient: att.Recipient,
		Metadata: TokenMetadata{
			Name:   ev.Metadata.Name,
			Symbol: c.symbol,
			URI:    ev.Metadata.Image,
		},
	})
	if err != nil {
		c.release(ctx, log, ev.ID, code, att.ID)
		return model.MintRecord{}, model.WrapKind(op, model.ErrMintSubmissionFailed, err)
	}

	submittedAt := c.clock.Now()
	if err := c.ledger.RecordSubmission(ctx, ev.ID, code, att.ID, tx.Signature); err != nil {
		c.release(ctx, log, ev.ID, code, att.ID)
		return model.MintRecord{}, model.WrapKind(op, model.ErrMintSubmissionFailed, err)
	}
	job := model.ReconcileJob{
		EventID:     ev.ID,
		ClaimCode:   code,
		AttemptID:   att.ID,
		Signature:   tx.Signature,
		Recipient:   att.Recipient,
		SubmittedAt: submittedAt,
	}

	err = c.chain.Submit(sctx, tx)
	metrics.RecordMintSubmitLatency(metrics.Since(start))
	if err != nil {
		if errors.Is(err, ErrRejected) {
			c.release(ctx, log, ev.ID, code, att.ID)
			return model.MintRecord{}, model.WrapKind(op, model.ErrMintSubmissionFailed, err)
		}
		c.unconfirmed(ctx, log, job)
		return model.MintRecord{}, model.WrapKind(op, model.ErrConfirmationUnknown, err)
	}

	log.Debug(ctx, "claim attempt", logger.String("phase", string(PhaseConfirming)), logger.String("signature", tx.Signature))
	cctx, ccancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer ccancel()

	start = time.Now()
	st, err := c.chain.Confirm(cctx, tx.Signature)
	metrics.RecordMintConfirmLatency(metrics.Since(start))
	if err == nil && st.State != model.TxConfirmed {
		err = fmt.Errorf("transaction %s %s", tx.Signature, st.State)
	}
	if err != nil {
		c.unconfirmed(ctx, log, job)
		return model.MintRecord{}, model.WrapKind(op, model.ErrConfirmationUnknown, err)
	}

	// Confirmed on chain: record it even if the caller went away.
	rec, err := c.ledger.Consume(context.WithoutCancel(ctx), ev.ID, code, att.Recipient, tx.Signature)
	switch {
	case err == nil, errors.Is(err, model.ErrAlreadyConsumed):
		// AlreadyConsumed here means the reconciler settled this same signature first.
		log.Info(ctx, "claim settled",
			logger.String("phase", string(PhaseSettled)),
			logger.String("signature", rec.Signature),
			logger.String("recipient", rec.Recipient))
		return rec, nil
	case errors.Is(err, model.ErrIntegrity):
		return rec, err
	default:
		c.unconfirmed(ctx, log, job)
		return model.MintRecord{}, model.WrapKind(op, model.ErrConfirmationUnknown, err)
	}
}

func (c *Coordinator) release(ctx context.Context, log logger.Logger, eventID, code, attemptID string) {
	if err := c.ledger.Release(context.WithoutCancel(ctx), eventID, code, attemptID); err != nil {
		log.Error(ctx, "failed to release attempt", logger.String("attemptID", attemptID), logger.Error(err))
	}
}

func (c *Coordinator) unconfirmed(ctx context.Context, log logger.Logger, job model.ReconcileJob) {
	wctx := context.WithoutCancel(ctx)
	if err := c.ledger.MarkUnconfirmed(wctx, job.EventID, job.ClaimCode, job.AttemptID); err != nil {
		log.Error(ctx, "failed to flag attempt for reconciliation",
			logger.String("attemptID", job.AttemptID),
			logger.String("signature", job.Signature),
			logger.Error(err))
	}
	log.Warn(ctx, "mint outcome unknown", logger.String("signature", job.Signature))
	c.enqueue(wctx, job)
}

func (c *Coordinator) enqueue(ctx context.Context, job model.ReconcileJob) {
	if c.queue == nil {
		return
	}
	if !c.queue.Enqueue(ctx, job) {
		c.log.Warn(ctx, "reconcile queue rejected job; the sweeper will pick it up",
			logger.String("eventID", job.EventID),
			logger.String("claimCode", job.ClaimCode))
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return string(PhaseSettled)
	}
	switch model.KindOf(err) {
	case model.ErrMalformedAddress:
		return "malformed_address"
	case model.ErrInvalidClaim:
		return "invalid_claim"
	case model.ErrAlreadyConsumed:
		return "already_consumed"
	case model.ErrClaimPending:
		return "claim_pending"
	case model.ErrSupplyExhausted:
		return "supply_exhausted"
	case model.ErrMintSubmissionFailed:
		return "submission_failed"
	case model.ErrConfirmationUnknown:
		return "confirmation_unknown"
	case model.ErrIntegrity:
		return "integrity"
	default:
		return "error"
	}
}
