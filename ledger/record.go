package ledger

import (
	"time"

	"github.com/fishledger/settlement-engine/settlement"
)

// Record is one settled sale: the engine input as entered and the result the
// engine produced for it.
type Record struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Party          string            `json:"party,omitempty"`
	Item           string            `json:"item,omitempty"`
	Input          settlement.Input  `json:"input"`
	Result         settlement.Result `json:"result"`
	RecordedAt     time.Time         `json:"recorded_at"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record was soft deleted.
func (r Record) Deleted() bool { return r.DeletedAt != nil }

// WithEchoedInput returns r with the input fields echoed in its result taken
// from r.Input. Stores apply it on write or read, so only the computed fields
// of a stored result can ever differ from a recomputation.
func (r Record) WithEchoedInput() Record {
	r.Result.GrossWeightKg = r.Input.GrossWeightKg
	r.Result.RatePerKg = r.Input.RatePerKg
	r.Result.Method = r.Input.Method
	r.Result.DeductionPercent = r.Input.DeductionPercent
	r.Result.CommissionPercent = r.Input.CommissionPercent
	return r
}

// RecordRequest is what a caller supplies to record a sale.
type RecordRequest struct {
	IdempotencyKey string
	Party          string
	Item           string
	Input          settlement.Input
}

// Verification is the outcome of re-deriving a stored result.
type Verification struct {
	RecordID string `json:"record_id"`
	Valid    bool   `json:"valid"`

	// Mismatches lists result fields whose stored value differs from the
	// recomputation, by JSON name.
	Mismatches []string `json:"mismatches,omitempty"`

	// InputError is set when the stored input no longer validates.
	InputError string `json:"input_error,omitempty"`

	Stored   settlement.Result `json:"stored"`
	Expected settlement.Result `json:"expected"`
}
