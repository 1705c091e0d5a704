/*
store.go - Persistence interface for settlement records

PURPOSE:
  Defines the interface between the ledger and the database. The engine
  itself never persists anything; stores only see finished records.

CONTRACT:
  - Save():       Writes a new record. Rejects a reused idempotency key.
  - SoftDelete(): Stamps DeletedAt. The row stays for audit until purged.
  - Purge():      Hard-deletes rows soft deleted before a cutoff.
  - Input and Result are never updated after Save.
  - Only the computed fields of Result are persisted. The input fields it
    echoes are always returned from Input (Record.WithEchoedInput).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - store/memory/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level operations using Store
  - retention/job.go: Calls Purge on a schedule
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of settlement records.
type Store interface {
	// Save persists a record. Returns ErrDuplicateIdempotencyKey if the
	// record's non-empty idempotency key is already taken.
	Save(ctx context.Context, rec Record) error

	// Get returns a record by ID, deleted or not. ErrRecordNotFound if absent.
	Get(ctx context.Context, id string) (Record, error)

	// ListRange returns records with RecordedAt in [from, to), ordered by
	// RecordedAt then ID.
	ListRange(ctx context.Context, from, to time.Time, includeDeleted bool) ([]Record, error)

	// SoftDelete stamps DeletedAt. ErrRecordNotFound or ErrAlreadyDeleted.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// Purge hard-deletes records soft deleted before the cutoff and returns
	// how many were removed.
	Purge(ctx context.Context, before time.Time) (int, error)

	// ExistsKey checks if an idempotency key is already used.
	ExistsKey(ctx context.Context, idempotencyKey string) (bool, error)
}
