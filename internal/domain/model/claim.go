package model

import "time"

// ClaimState is the lifecycle state of a claim code.
type ClaimState string

// Claim states. A claim moves from issued to consumed at most once.
const (
	ClaimIssued   ClaimState = "issued"
	ClaimConsumed ClaimState = "consumed"
)

// AttemptStatus describes an outstanding mint attempt on an issued claim.
type AttemptStatus string

// Attempt statuses.
const (
	// AttemptInFlight means a claim request is between validation and confirmation.
	AttemptInFlight AttemptStatus = "in_flight"
	// AttemptUnconfirmed means a transaction was submitted but its outcome is
	// unknown; the claim must be reconciled before it can be retried.
	AttemptUnconfirmed AttemptStatus = "unconfirmed"
)

// Attempt is the lease a mint attempt holds on an issued claim.
type Attempt struct {
	ID          string        `json:"id"`
	Status      AttemptStatus `json:"status"`
	Recipient   string        `json:"recipient"`
	Signature   string        `json:"signature,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	SubmittedAt time.Time     `json:"submitted_at,omitempty"`
}

// Claim is a redeemable code belonging to exactly one event.
type Claim struct {
	EventID    string     `json:"event_id"`
	Code       string     `json:"claim_code"`
	State      ClaimState `json:"state"`
	Recipient  string     `json:"recipient,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ConsumedAt time.Time  `json:"consumed_at,omitempty"`
	Attempt    *Attempt   `json:"attempt,omitempty"`
}

// Consumed reports whether the claim has been redeemed.
func (c Claim) Consumed() bool { return c.State == ClaimConsumed }

// NeedsReconciliation reports whether an earlier attempt submitted a
// transaction whose outcome has not been observed yet.
func (c Claim) NeedsReconciliation() bool {
	return c.State == ClaimIssued && c.Attempt != nil && c.Attempt.Status == AttemptUnconfirmed
}

// LeaseExpired reports whether an in-flight attempt is older than ttl and
// never recorded a submission; such a lease belongs to a dead request.
func (c Claim) LeaseExpired(now time.Time, ttl time.Duration) bool {
	if c.Attempt == nil || c.Attempt.Status != AttemptInFlight {
		return false
	}
	return now.Sub(c.Attempt.StartedAt) > ttl
}

// Record returns the mint record of a consumed claim.
func (c Claim) Record() MintRecord {
	return MintRecord{
		Signature: c.Signature,
		Recipient: c.Recipient,
		EventID:   c.EventID,
		ClaimCode: c.Code,
		MintedAt:  c.ConsumedAt,
	}
}

// MintRecord is the append-only audit fact of a successful mint.
type MintRecord struct {
	Signature string    `json:"signature"`
	Recipient string    `json:"recipient"`
	EventID   string    `json:"event_id"`
	ClaimCode string    `json:"claim_code"`
	MintedAt  time.Time `json:"minted_at"`
}

// ReconcileJob asks the reconciler to resolve one unconfirmed attempt.
type ReconcileJob struct {
	EventID     string
	ClaimCode   string
	AttemptID   string
	Signature   string
	Recipient   string
	SubmittedAt time.Time
}

// JobFor builds the reconciliation job for a claim with an outstanding attempt.
func JobFor(c Claim) (ReconcileJob, bool) {
	if c.Attempt == nil || c.State != ClaimIssued {
		return ReconcileJob{}, false
	}
	return ReconcileJob{
		EventID:     c.EventID,
		ClaimCode:   c.Code,
		AttemptID:   c.Attempt.ID,
		Signature:   c.Attempt.Signature,
		Recipient:   c.Attempt.Recipient,
		SubmittedAt: c.Attempt.SubmittedAt,
	}, true
}

// ReconcileOutcome is the result of resolving one unconfirmed attempt.
type ReconcileOutcome string

// Reconcile outcomes.
const (
	ReconcileConsumed ReconcileOutcome = "consumed" // the mint landed; the claim is consumed
	ReconcileReleased ReconcileOutcome = "released" // the mint failed; the claim may be retried
	ReconcileExpired  ReconcileOutcome = "expired"  // the ledger never saw the transaction
	ReconcilePending  ReconcileOutcome = "pending"  // still undecided
	ReconcileStale    ReconcileOutcome = "stale"    // the attempt no longer holds the claim
)
