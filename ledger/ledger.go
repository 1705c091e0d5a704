/*
ledger.go - Settlement record keeping

PURPOSE:
  The Ledger is the only place where engine results are persisted. It
  computes, stamps and stores each sale, and can later prove that a stored
  result still matches what the engine derives from the stored input.

INVARIANTS:
  1. INPUT FIRST: A record is only saved after Compute succeeds. Invalid
     input returns the engine's *ValidationError and stores nothing.
  2. IMMUTABLE: Input and Result are never edited. Deletion is soft.
  3. IDEMPOTENT: Same idempotency key = same sale (no duplicates).

INTEGRITY:
  Verify recomputes the result from the stored input with the same engine
  and lists every field that differs. Records synced from offline devices
  or edited directly in the database show up here.

SEE ALSO:
  - store.go: Low-level persistence interface
  - report/report.go: Batch regeneration from stored inputs
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fishledger/settlement-engine/settlement"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

func New(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.NewString() },
	}
}

// Record computes the result for req.Input and persists it.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (Record, error) {
	res, err := settlement.Compute(req.Input)
	if err != nil {
		return Record{}, err
	}

	if req.IdempotencyKey != "" {
		exists, err := l.Store.ExistsKey(ctx, req.IdempotencyKey)
		if err != nil {
			return Record{}, err
		}
		if exists {
			return Record{}, ErrDuplicateIdempotencyKey
		}
	}

	rec := Record{
		ID:             l.NewID(),
		IdempotencyKey: req.IdempotencyKey,
		Party:          req.Party,
		Item:           req.Item,
		Input:          req.Input,
		Result:         res,
		RecordedAt:     l.Now(),
	}
	if err := l.Store.Save(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("save record: %w", err)
	}
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (Record, error) {
	return l.Store.Get(ctx, id)
}

// List returns records in [from, to). Deleted records only when asked.
func (l *Ledger) List(ctx context.Context, from, to time.Time, includeDeleted bool) ([]Record, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: list range ends before it starts", settlement.ErrInvalidInput)
	}
	return l.Store.ListRange(ctx, from, to, includeDeleted)
}

// Delete soft deletes a record.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	return l.Store.SoftDelete(ctx, id, l.Now())
}

// Verify recomputes a stored record and compares field by field.
func (l *Ledger) Verify(ctx context.Context, id string) (Verification, error) {
	rec, err := l.Store.Get(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	return VerifyRecord(rec), nil
}

// VerifyRecord checks a record that is already in hand, e.g. one received
// from an offline device before it is saved.
func VerifyRecord(rec Record) Verification {
	v := Verification{RecordID: rec.ID, Stored: rec.Result}

	expected, err := settlement.Compute(rec.Input)
	if err != nil {
		v.InputError = err.Error()
		return v
	}
	v.Expected = expected

	// The stored input is the source of truth, so an echoed field that
	// disagrees with it is a mismatch too.
	v.Mismatches = rec.Result.Diff(expected)
	v.Valid = len(v.Mismatches) == 0
	return v
}
