// Package repository persists events, claims and mint records.
package repository

import (
	"context"
	"time"

	"github.com/okian/popclaim/internal/domain/model"
)

// Stats summarises the stored state.
type Stats struct {
	Events       int `json:"events"`
	Claims       int `json:"claims"`
	Consumed     int `json:"consumed"`
	PendingTrees int `json:"pending_trees"`
	OpenAttempts int `json:"open_attempts"`
	Unreconciled int `json:"unreconciled"`
	MintRecords  int `json:"mint_records"`
}

// Store is the claim ledger's persistence. Every claim mutation is
// serialised per (eventID, code); the event counters move under the same
// serialisation.
type Store interface {
	// CreateEvent stores a new event. Returns ErrDuplicate for a known ID.
	CreateEvent(ctx context.Context, ev model.Event) error
	// UpdateTree sets the tree of an event while it is still pending.
	// A ready or failed tree is final and returns ErrTreeFinal.
	UpdateTree(ctx context.Context, eventID string, ref model.TreeRef) error
	// GetEvent returns model.ErrNotFound for unknown events.
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)

	// InsertClaim stores an issued claim and increments the event's issued
	// count. It fails with model.ErrSupplyExhausted once MaxSupply claims
	// exist and with ErrDuplicate when the code is taken.
	InsertClaim(ctx context.Context, c model.Claim) error
	// GetClaim returns model.ErrNotFound for unknown codes.
	GetClaim(ctx context.Context, eventID, code string) (model.Claim, error)
	// ListClaims returns the claims of an event in issue order.
	ListClaims(ctx context.Context, eventID string, limit int) ([]model.Claim, error)

	// BeginAttempt leases an issued claim to a mint attempt. It returns the
	// current claim along with model.ErrAlreadyConsumed for consumed
	// claims, ErrAttemptExists when another attempt holds the lease and
	// model.ErrSupplyExhausted when the event has no mints left.
	BeginAttempt(ctx context.Context, eventID, code string, a model.Attempt) (model.Claim, error)
	// RecordSubmission stores the signature of the attempt's transaction
	// before it is sent.
	RecordSubmission(ctx context.Context, eventID, code, attemptID, signature string, at time.Time) error
	// MarkUnconfirmed flags the attempt for reconciliation.
	MarkUnconfirmed(ctx context.Context, eventID, code, attemptID string) error
	// ReleaseAttempt drops the lease so the claim can be retried. Releasing
	// a lease that is gone is not an error.
	ReleaseAttempt(ctx context.Context, eventID, code, attemptID string) error
	// Consume moves the claim to consumed, clears the lease, increments the
	// minted count and appends the mint record. A repeated consume returns
	// the original record with model.ErrAlreadyConsumed, or with
	// model.ErrIntegrity when the signature differs.
	Consume(ctx context.Context, eventID, code, recipient, signature string, at time.Time) (model.MintRecord, error)
	// ListAttempts returns issued claims that hold a lease, oldest first.
	ListAttempts(ctx context.Context, limit int) ([]model.Claim, error)
	// ListMintRecords returns the mint records of an event in mint order.
	ListMintRecords(ctx context.Context, eventID string, limit int) ([]model.MintRecord, error)
	// ListPendingTrees returns events whose tree is still pending.
	ListPendingTrees(ctx context.Context, limit int) ([]model.Event, error)

	// Stats summarises the stored state.
	Stats(ctx context.Context) (Stats, error)
	// Close releases resources.
	Close() error
}
