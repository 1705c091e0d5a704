/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Numbers travel as
  JSON strings or numbers and are decoded straight into decimal.Decimal,
  so no value passes through float64 on the way to the engine.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Response wrappers
  - *DTO:      Records returned to clients

DISPLAY BLOCKS:
  Every response that carries engine values also carries a "display" block
  with the same values rounded, grouped and written in the selected
  numerals. Clients must never parse display strings back into numbers.

VALIDATION:
  Struct tags cover presence and lengths only (go-playground/validator).
  Numeric rules belong to the engine so that the field named in a 422 is
  the engine's field name.

SEE ALSO:
  - handlers.go: Uses these types
  - presentation/format.go: Display formatting
*/
package api

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fishledger/settlement-engine/ledger"
	"github.com/fishledger/settlement-engine/presentation"
	"github.com/fishledger/settlement-engine/report"
	"github.com/fishledger/settlement-engine/settlement"
)

// =============================================================================
// CALCULATIONS
// =============================================================================

// ComputeRequest is the body of POST /api/calculations/compute.
// Missing method and percentages fall back to the market settings.
type ComputeRequest struct {
	GrossWeightKg     *decimal.Decimal `json:"gross_weight_kg" validate:"required"`
	RatePerKg         *decimal.Decimal `json:"rate_per_kg" validate:"required"`
	Method            string           `json:"deduction_method,omitempty"`
	DeductionPercent  *decimal.Decimal `json:"deduction_percent,omitempty"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
}

func (r ComputeRequest) checkDigits() *FieldError {
	return checkDigits(
		namedDecimal{settlement.FieldGrossWeight, r.GrossWeightKg},
		namedDecimal{settlement.FieldRate, r.RatePerKg},
		namedDecimal{settlement.FieldDeductionPercent, r.DeductionPercent},
		namedDecimal{settlement.FieldCommissionPercent, r.CommissionPercent},
	)
}

// ComputeResponse carries the raw result and its display form.
type ComputeResponse struct {
	Result  settlement.Result            `json:"result"`
	Display presentation.FormattedResult `json:"display"`
}

// CompareRequest is the body of POST /api/calculations/compare.
type CompareRequest struct {
	GrossWeightKg     *decimal.Decimal `json:"gross_weight_kg" validate:"required"`
	RatePerKg         *decimal.Decimal `json:"rate_per_kg" validate:"required"`
	DeductionPercent  *decimal.Decimal `json:"deduction_percent,omitempty"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
}

func (r CompareRequest) checkDigits() *FieldError {
	return checkDigits(
		namedDecimal{settlement.FieldGrossWeight, r.GrossWeightKg},
		namedDecimal{settlement.FieldRate, r.RatePerKg},
		namedDecimal{settlement.FieldDeductionPercent, r.DeductionPercent},
		namedDecimal{settlement.FieldCommissionPercent, r.CommissionPercent},
	)
}

// CompareResponse carries both methods' results and their display form.
type CompareResponse struct {
	Comparison settlement.Comparison            `json:"comparison"`
	Display    presentation.FormattedComparison `json:"display"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest is the body of POST /api/transactions.
// The Idempotency-Key header is used when the body carries no key.
type CreateTransactionRequest struct {
	ComputeRequest
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=128"`
	Party          string `json:"party,omitempty" validate:"max=200"`
	Item           string `json:"item,omitempty" validate:"max=200"`
}

// TransactionDTO is a stored record with its display form.
type TransactionDTO struct {
	ledger.Record
	Display presentation.FormattedResult `json:"display"`
}

// ListTransactionsResponse is returned by GET /api/transactions.
type ListTransactionsResponse struct {
	From         string           `json:"from"`
	To           string           `json:"to"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// REPORTS
// =============================================================================

// FormattedTotals is the display form of report.Totals.
type FormattedTotals struct {
	Count            int    `json:"count"`
	GrossWeightKg    string `json:"gross_weight_kg"`
	NetWeightKg      string `json:"net_weight_kg"`
	GrossAmount      string `json:"gross_amount"`
	DeductionAmount  string `json:"deduction_amount"`
	BaseAmount       string `json:"base_amount"`
	CommissionAmount string `json:"commission_amount"`
	FinalAmount      string `json:"final_amount"`
}

// DailyReportResponse is returned by GET /api/reports/daily.
type DailyReportResponse struct {
	Summary report.DailySummary `json:"summary"`
	Display struct {
		Totals   FormattedTotals                       `json:"totals"`
		ByMethod map[settlement.Method]FormattedTotals `json:"by_method"`
	} `json:"display"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Digit constraints reported for decimals outside presentation's limits.
const (
	ConstraintTooLarge   = "too_large"
	ConstraintTooPrecise = "too_precise"
)

type namedDecimal struct {
	field string
	value *decimal.Decimal
}

// checkDigits returns the first field whose value has more digits than the
// formatter accepts. Nil values are skipped.
func checkDigits(values ...namedDecimal) *FieldError {
	for _, v := range values {
		if v.value == nil {
			continue
		}
		switch err := presentation.CheckDigits(*v.value); {
		case errors.Is(err, presentation.ErrTooManyIntegerDigits):
			return &FieldError{Field: v.field, Constraint: ConstraintTooLarge}
		case err != nil:
			return &FieldError{Field: v.field, Constraint: ConstraintTooPrecise}
		}
	}
	return nil
}

// FieldError names the offending field and the rule it broke.
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      string `json:"value,omitempty"`
}
