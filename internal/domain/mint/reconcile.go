package mint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

// Reconcile resolves one attempt from the ledger's view of its signature.
// A confirmed mint consumes the claim; a failed or expired one releases it.
func (c *Coordinator) Reconcile(ctx context.Context, job model.ReconcileJob) (model.ReconcileOutcome, error) {
	start := time.Now()
	outcome, err := c.reconcile(ctx, job)
	if err != nil {
		metrics.RecordErrorByComponent("reconciler", outcomeOf(err))
		return outcome, err
	}
	metrics.RecordReconcile(string(outcome), metrics.Since(start))
	if outcome != model.ReconcilePending {
		c.log.Info(ctx, "attempt reconciled",
			logger.String("eventID", job.EventID),
			logger.String("claimCode", job.ClaimCode),
			logger.String("attemptID", job.AttemptID),
			logger.String("outcome", string(outcome)))
	}
	return outcome, nil
}

func (c *Coordinator) reconcile(ctx context.Context, job model.ReconcileJob) (model.ReconcileOutcome, error) {
	const op = "mint.reconcile"

	cl, err := c.ledger.Lookup(ctx, job.EventID, job.ClaimCode)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if cl.Consumed() {
		if job.Signature != "" && cl.Signature == job.Signature {
			return model.ReconcileConsumed, nil
		}
		return model.ReconcileStale, nil
	}
	if cl.Attempt == nil || cl.Attempt.ID != job.AttemptID {
		return model.ReconcileStale, nil
	}

	att := *cl.Attempt
	now := c.clock.Now()
	if att.Signature == "" {
		if !cl.LeaseExpired(now, c.leaseTTL) {
			return model.ReconcilePending, nil
		}
		return c.releaseFor(ctx, cl, model.ReconcileReleased)
	}

	st, err := c.chain.Status(ctx, att.Signature)
	if err != nil {
		return "", fmt.Errorf("%s: status %s: %w", op, att.Signature, err)
	}
	switch st.State {
	case model.TxConfirmed:
		_, err := c.ledger.Consume(ctx, cl.EventID, cl.Code, att.Recipient, att.Signature)
		if err != nil && !errors.Is(err, model.ErrAlreadyConsumed) {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return model.ReconcileConsumed, nil
	case model.TxFailed:
		return c.releaseFor(ctx, cl, model.ReconcileReleased)
	case model.TxUnseen:
		if now.Sub(att.SubmittedAt) > c.blockhashTTL {
			return c.releaseFor(ctx, cl, model.ReconcileExpired)
		}
	}
	return model.ReconcilePending, nil
}

func (c *Coordinator) releaseFor(ctx context.Context, cl model.Claim, outcome model.ReconcileOutcome) (model.ReconcileOutcome, error) {
	if err := c.ledger.Release(ctx, cl.EventID, cl.Code, cl.Attempt.ID); err != nil {
		return "", fmt.Errorf("mint.reconcile: release: %w", err)
	}
	return outcome, nil
}

// SweepResult summarises one sweep over leased claims.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Enqueued   int `json:"enqueued"`
	Reconciled int `json:"reconciled"`
	Released   int `json:"released"`
}

// Sweep finds attempts that need attention: unconfirmed ones, and in-flight
// leases older than the lease ttl whose request died. Those with a signature
// are reconciled; those without are released.
func (c *Coordinator) Sweep(ctx context.Context) (SweepResult, error) {
	const op = "mint.sweep"
	leased, err := c.ledger.Pending(ctx, c.sweepLimit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("%s: %w", op, err)
	}
	metrics.UpdatePendingClaims(len(leased))

	res := SweepResult{Scanned: len(leased)}
	now := c.clock.Now()
	for _, cl := range leased {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		if !cl.NeedsReconciliation() && !cl.LeaseExpired(now, c.leaseTTL) {
			continue
		}
		job, ok := model.JobFor(cl)
		if !ok {
			continue
		}
		if job.Signature == "" {
			if _, err := c.releaseFor(ctx, cl, model.ReconcileReleased); err != nil {
				c.log.Error(ctx, "failed to release dead lease", logger.String("attemptID", job.AttemptID), logger.Error(err))
				continue
			}
			res.Released++
			continue
		}
		if c.queue != nil && c.queue.Enqueue(ctx, job) {
			res.Enqueued++
			continue
		}
		outcome, err := c.Reconcile(ctx, job)
		if err != nil {
			c.log.Error(ctx, "inline reconcile failed", logger.String("attemptID", job.AttemptID), logger.Error(err))
			continue
		}
		res.Reconciled++
		if outcome == model.ReconcileReleased || outcome == model.ReconcileExpired {
			res.Released++
		}
	}
	return res, nil
}
