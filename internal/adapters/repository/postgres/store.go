// Package postgres is the PostgreSQL implementation of repository.Store.
// Claim transitions take a row lock on the claim; issuing and minting take
// a row lock on the event so the counters move with the claim state.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/popclaim/internal/adapters/repository"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/metrics"
)

// Store persists the ledger in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New wraps an open pool. The schema is applied by migrations.Apply.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and checks connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const eventColumns = `id, name, description, image, organizer, event_date, max_supply,
	tree_address, tree_max_depth, tree_max_buffer, tree_capacity, tree_state, tree_signature, tree_error, tree_updated_at,
	issued, minted, created_at`

const claimColumns = `event_id, code, state, recipient, signature, issued_at, consumed_at,
	attempt_id, attempt_status, attempt_recipient, attempt_signature, attempt_started_at, attempt_submitted_at`

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		ev    model.Event
		state string
	)
	err := row.Scan(&ev.ID, &ev.Metadata.Name, &ev.Metadata.Description, &ev.Metadata.Image, &ev.Metadata.Organizer,
		&ev.Metadata.Date, &ev.MaxSupply,
		&ev.Tree.Address, &ev.Tree.Params.MaxDepth, &ev.Tree.Params.MaxBufferSize, &ev.Tree.Params.Capacity,
		&state, &ev.Tree.Signature, &ev.Tree.Error, &ev.Tree.UpdatedAt,
		&ev.Issued, &ev.Minted, &ev.CreatedAt)
	ev.Tree.State = model.TreeState(state)
	return ev, err
}

func scanClaim(row pgx.Row) (model.Claim, error) {
	var (
		c                      model.Claim
		state                  string
		consumedAt             *time.Time
		attemptID, attemptStat *string
		attRecipient, attSig   string
		startedAt, submittedAt *time.Time
	)
	err := row.Scan(&c.EventID, &c.Code, &state, &c.Recipient, &c.Signature, &c.IssuedAt, &consumedAt,
		&attemptID, &attemptStat, &attRecipient, &attSig, &startedAt, &submittedAt)
	if err != nil {
		return model.Claim{}, err
	}
	c.State = model.ClaimState(state)
	if consumedAt != nil {
		c.ConsumedAt = *consumedAt
	}
	if attemptID != nil {
		a := &model.Attempt{ID: *attemptID, Recipient: attRecipient, Signature: attSig}
		if attemptStat != nil {
			a.Status = model.AttemptStatus(*attemptStat)
		}
		if startedAt != nil {
			a.StartedAt = *startedAt
		}
		if submittedAt != nil {
			a.SubmittedAt = *submittedAt
		}
		c.Attempt = a
	}
	return c, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// CreateEvent stores a new event.
func (s *Store) CreateEvent(ctx context.Context, ev model.Event) error {
	const op = "postgres.create_event"
	defer observeWrite(time.Now())

	const stmt = `
INSERT INTO events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	treeUpdated := ev.Tree.UpdatedAt
	if treeUpdated.IsZero() {
		treeUpdated = ev.CreatedAt
	}
	state := ev.Tree.State
	if state == "" {
		state = model.TreePending
	}
	_, err := s.exec(ctx, stmt,
		ev.ID, ev.Metadata.Name, ev.Metadata.Description, ev.Metadata.Image, ev.Metadata.Organizer, ev.Metadata.Date,
		ev.MaxSupply,
		ev.Tree.Address, ev.Tree.Params.MaxDepth, ev.Tree.Params.MaxBufferSize, ev.Tree.Params.Capacity,
		string(state), ev.Tree.Signature, ev.Tree.Error, treeUpdated,
		ev.Issued, ev.Minted, ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewKind(op, repository.ErrDuplicate)
		}
		if isCheckViolation(err) {
			return model.WrapKind(op, model.ErrInvalidInput, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateTree sets the tree of a pending event.
func (s *Store) UpdateTree(ctx context.Context, eventID string, ref model.TreeRef) error {
	const op = "postgres.update_tree"
	defer observeWrite(time.Now())

	const stmt = `
UPDATE events
SET tree_address = $2, tree_max_depth = $3, tree_max_buffer = $4, tree_capacity = $5,
	tree_state = $6, tree_signature = $7, tree_error = $8, tree_updated_at = $9
WHERE id = $1 AND tree_state = 'pending'`
	tag, err := s.exec(ctx, stmt, eventID, ref.Address, ref.Params.MaxDepth, ref.Params.MaxBufferSize,
		ref.Params.Capacity, string(ref.State), ref.Signature, ref.Error, ref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEvent(ctx, eventID); err != nil {
			return err
		}
		return model.NewKind(op, repository.ErrTreeFinal)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	const op = "postgres.get_event"
	defer observeRead(time.Now())

	ev, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, model.NewKindMsg(op, model.ErrNotFound, "event "+eventID)
		}
		return model.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return ev, nil
}

func (s *Store) listEvents(ctx context.Context, op, query string, limit int) ([]model.Event, error) {
	defer observeRead(time.Now())
	rows, err := s.query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.listEvents(ctx, "postgres.list_events",
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id LIMIT $1`, limit)
}

// ListPendingTrees returns events whose tree is pending, oldest first.
func (s *Store) ListPendingTrees(ctx context.Context, limit int) ([]model.Event, error) {
	return s.listEvents(ctx, "postgres.list_pending_trees",
		`SELECT `+eventColumns+` FROM events WHERE tree_state = 'pending' ORDER BY created_at LIMIT $1`, limit)
}

// InsertClaim stores an issued claim under the event's row lock.
func (s *Store) InsertClaim(ctx context.Context, c model.Claim) error {
	const op = "postgres.insert_claim"
	defer observeWrite(time.Now())

	return s.inTx(ctx, func(ctx context.Context) error {
		var issued, maxSupply int
		err := s.queryRow(ctx, `SELECT issued, max_supply FROM events WHERE id = $1 FOR UPDATE`, c.EventID).
			Scan(&issued, &maxSupply)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.NewKindMsg(op, model.ErrNotFound, "event "+c.EventID)
			}
			return fmt.Errorf("%s: lock event: %w", op, err)
		}
		if issued >= maxSupply {
			return model.NewKind(op, model.ErrSupplyExhausted)
		}

		_, err = s.exec(ctx, `
INSERT INTO claims (event_id, code, state, issued_at)
VALUES ($1, $2, 'issued', $3)`, c.EventID, c.Code, c.IssuedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return model.NewKind(op, repository.ErrDuplicate)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := s.exec(ctx, `UPDATE events SET issued = issued + 1 WHERE id = $1`, c.EventID); err != nil {
			return fmt.Errorf("%s: count: %w", op, err)
		}
		return nil
	})
}

// GetClaim returns a claim by code.
func (s *Store) GetClaim(ctx context.Context, eventID, code string) (model.Claim, error) {
	const op = "postgres.get_claim"
	defer observeRead(time.Now())
	return s.getClaim(ctx, op, eventID, code, "")
}

func (s *Store) getClaim(ctx context.Context, op, eventID, code, suffix string) (model.Claim, error) {
	c, err := scanClaim(s.queryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE event_id = $1 AND code = $2`+suffix, eventID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Claim{}, model.NewKindMsg(op, model.ErrNotFound, "claim")
		}
		return model.Claim{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *Store) listClaims(ctx context.Context, op, query string, args ...any) ([]model.Claim, error) {
	defer observeRead(time.Now())
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ListClaims returns the claims of an event in issue order.
func (s *Store) ListClaims(ctx context.Context, eventID string, limit int) ([]model.Claim, error) {
	const op = "postgres.list_claims"
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.listClaims(ctx, op,
		`SELECT `+claimColumns+` FROM claims WHERE event_id = $1 ORDER BY seq LIMIT $2`, eventID, limitArg(limit))
}

// ListAttempts returns leased claims, oldest lease first.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]model.Claim, error) {
	return s.listClaims(ctx, "postgres.list_attempts", `
SELECT `+claimColumns+` FROM claims
WHERE attempt_id IS NOT NULL AND state = 'issued'
ORDER BY attempt_started_at LIMIT $1`, limitArg(limit))
}

// BeginAttempt leases an issued claim to an attempt.
func (s *Store) BeginAttempt(ctx context.Context, eventID, code string, a model.Attempt) (model.Claim, error) {
	const op = "postgres.begin_attempt"
	defer observeWrite(time.Now())

	var out model.Claim
	err := s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.getClaim(ctx, op, eventID, code, " FOR UPDATE")
		if err != nil {
			return err
		}
		out = c
		switch {
		case c.State == model.ClaimConsumed:
			return model.NewKind(op, model.ErrAlreadyConsumed)
		case c.Attempt != nil:
			return model.NewKind(op, repository.ErrAttemptExists)
		}

		ev, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Minted >= ev.MintLimit() {
			return model.NewKind(op, model.ErrSupplyExhausted)
		}

		_, err = s.exec(ctx, `
UPDATE claims
SET attempt_id = $3, attempt_status = 'in_flight', attempt_recipient = $4, attempt_signature = '',
	attempt_started_at = $5, attempt_submitted_at = NULL
WHERE event_id = $1 AND code = $2`, eventID, code, a.ID, a.Recipient, a.StartedAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		a.Status = model.AttemptInFlight
		out.Attempt = &a
		return nil
	})
	return out, err
}

func (s *Store) updateAttempt(ctx context.Context, op, eventID, code, stmt string, args ...any) error {
	defer observeWrite(time.Now())
	tag, err := s.exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.getClaim(ctx, op, eventID, code, ""); err != nil {
			return err
		}
		return model.NewKind(op, repository.ErrAttemptMismatch)
	}
	return nil
}

// RecordSubmission stores the attempt's signature.
func (s *Store) RecordSubmission(ctx context.Context, eventID, code, attemptID, signature string, at time.Time) error {
	return s.updateAttempt(ctx, "postgres.record_submission", eventID, code, `
UPDATE claims SET attempt_signature = $4, attempt_submitted_at = $5
WHERE event_id = $1 AND code = $2 AND attempt_id = $3 AND state = 'issued'`,
		eventID, code, attemptID, signature, at)
}

// MarkUnconfirmed flags the attempt for reconciliation.
func (s *Store) MarkUnconfirmed(ctx context.Context, eventID, code, attemptID string) error {
	return s.updateAttempt(ctx, "postgres.mark_unconfirmed", eventID, code, `
UPDATE claims SET attempt_status = 'unconfirmed'
WHERE event_id = $1 AND code = $2 AND attempt_id = $3 AND state = 'issued'`,
		eventID, code, attemptID)
}

// ReleaseAttempt drops the attempt's lease.
func (s *Store) ReleaseAttempt(ctx context.Context, eventID, code, attemptID string) error {
	const op = "postgres.release_attempt"
	defer observeWrite(time.Now())

	tag, err := s.exec(ctx, `
UPDATE claims
SET attempt_id = NULL, attempt_status = NULL, attempt_recipient = '', attempt_signature = '',
	attempt_started_at = NULL, attempt_submitted_at = NULL
WHERE event_id = $1 AND code = $2 AND attempt_id = $3`, eventID, code, attemptID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.getClaim(ctx, op, eventID, code, "")
		return err
	}
	return nil
}

// Consume moves a claim to consumed exactly once.
func (s *Store) Consume(ctx context.Context, eventID, code, recipient, signature string, at time.Time) (model.MintRecord, error) {
	const op = "postgres.consume"
	defer observeWrite(time.Now())

	var rec model.MintRecord
	err := s.inTx(ctx, func(ctx context.Context) error {
		// Lock order is event then claim, the same as InsertClaim.
		if _, err := s.exec(ctx, `SELECT 1 FROM events WHERE id = $1 FOR UPDATE`, eventID); err != nil {
			return fmt.Errorf("%s: lock event: %w", op, err)
		}
		c, err := s.getClaim(ctx, op, eventID, code, " FOR UPDATE")
		if err != nil {
			return err
		}
		if c.Consumed() {
			rec = c.Record()
			if c.Signature != signature {
				return model.NewKindMsg(op, model.ErrIntegrity, "consumed with signature "+c.Signature)
			}
			return model.NewKind(op, model.ErrAlreadyConsumed)
		}

		_, err = s.exec(ctx, `
UPDATE claims
SET state = 'consumed', recipient = $3, signature = $4, consumed_at = $5,
	attempt_id = NULL, attempt_status = NULL, attempt_recipient = '', attempt_signature = '',
	attempt_started_at = NULL, attempt_submitted_at = NULL
WHERE event_id = $1 AND code = $2`, eventID, code, recipient, signature, at)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := s.exec(ctx, `UPDATE events SET minted = minted + 1 WHERE id = $1`, eventID); err != nil {
			return fmt.Errorf("%s: count: %w", op, err)
		}
		_, err = s.exec(ctx, `
INSERT INTO mint_records (signature, event_id, claim_code, recipient, minted_at)
VALUES ($1, $2, $3, $4, $5)`, signature, eventID, code, recipient, at)
		if err != nil {
			if isUniqueViolation(err) {
				return model.WrapKind(op, model.ErrIntegrity, err)
			}
			return fmt.Errorf("%s: record: %w", op, err)
		}
		rec = model.MintRecord{Signature: signature, Recipient: recipient, EventID: eventID, ClaimCode: code, MintedAt: at}
		return nil
	})
	return rec, err
}

// ListMintRecords returns the mint records of an event.
func (s *Store) ListMintRecords(ctx context.Context, eventID string, limit int) ([]model.MintRecord, error) {
	const op = "postgres.list_mint_records"
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	defer observeRead(time.Now())

	rows, err := s.query(ctx, `
SELECT signature, recipient, event_id, claim_code, minted_at
FROM mint_records WHERE event_id = $1 ORDER BY seq LIMIT $2`, eventID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MintRecord, error) {
		var r model.MintRecord
		err := row.Scan(&r.Signature, &r.Recipient, &r.EventID, &r.ClaimCode, &r.MintedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Stats summarises the stored state.
func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	const op = "postgres.stats"
	var st repository.Stats
	err := s.queryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM events),
	(SELECT COUNT(*) FROM events WHERE tree_state = 'pending'),
	(SELECT COUNT(*) FROM claims),
	(SELECT COUNT(*) FROM claims WHERE state = 'consumed'),
	(SELECT COUNT(*) FROM claims WHERE state = 'issued' AND attempt_id IS NOT NULL),
	(SELECT COUNT(*) FROM claims WHERE state = 'issued' AND attempt_status = 'unconfirmed'),
	(SELECT COUNT(*) FROM mint_records)`).
		Scan(&st.Events, &st.PendingTrees, &st.Claims, &st.Consumed, &st.OpenAttempts, &st.Unreconciled, &st.MintRecords)
	if err != nil {
		return repository.Stats{}, fmt.Errorf("%s: %w", op, err)
	}
	return st, nil
}

// limitArg maps a non-positive limit to no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func observeWrite(start time.Time) { metrics.RecordRepositoryUpdateLatency(metrics.Since(start)) }
func observeRead(start time.Time)  { metrics.RecordRepositoryQueryLatency(metrics.Since(start)) }

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn(ctx).Exec(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn(ctx).Query(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn(ctx).QueryRow(ctx, sql, args...)
}
