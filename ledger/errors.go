package ledger

import (
	"errors"

	"github.com/fishledger/settlement-engine/settlement"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRecordNotFound is returned when no record has the requested ID.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateIdempotencyKey is returned when a record with the same
	// idempotency key already exists. Expected for client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAlreadyDeleted is returned when soft deleting a deleted record.
	ErrAlreadyDeleted = errors.New("record already deleted")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, settlement.ErrInvalidInput) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyDeleted)
}

// IsConflict returns true if the request clashes with stored state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyDeleted)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
