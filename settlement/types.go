/*
Package settlement provides the transaction calculation engine.

PURPOSE:
  Turns a recorded sale (gross weight, rate, deduction policy) into a settled
  monetary result: net weight, base amount, commission and the final payable
  amount. The same functions serve live form entry, side-by-side method
  comparison and batch regeneration, so they must be deterministic.

KEY CONCEPTS IN THIS FILE (types.go):
  - Method: the two settlement policies a market can use (A and B)
  - Input: an immutable calculation request
  - Result: an immutable calculation outcome, fully derived from an Input
  - Comparison: both methods' results over the same weight/rate pair

DESIGN PRINCIPLES:
  1. Purity: no I/O, no logging, no clocks, no shared state
  2. Precision: decimal.Decimal everywhere, never rounded in here
  3. Reject, don't repair: invalid input is an error, never clamped

USAGE:
  in := settlement.NewInput(decimal.NewFromInt(100), decimal.NewFromInt(50), settlement.MethodA)
  res, err := settlement.Compute(in)

SEE ALSO:
  - compute.go: Calculation core
  - compare.go: Comparison layer
  - errors.go: ValidationError
  - presentation/: rounding and numerals for display
*/
package settlement

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// METHOD - Settlement policy
// =============================================================================

// Method names one of the two mutually exclusive settlement policies.
type Method string

const (
	// MethodA deducts from the weight, then prices the net weight.
	MethodA Method = "A"
	// MethodB prices the gross weight, then deducts from the money.
	MethodB Method = "B"
)

// Methods lists every method in comparison order.
var Methods = []Method{MethodA, MethodB}

func (m Method) String() string { return string(m) }

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool { return m == MethodA || m == MethodB }

// ParseMethod converts a user supplied method name ("a", "B", " b ").
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ValidationError{Field: FieldMethod, Constraint: ConstraintUnknownMethod, Value: s}
	}
	return m, nil
}

// =============================================================================
// INPUT
// =============================================================================

var (
	// DefaultDeductionPercent is the share of gross weight treated as
	// non-payable loss (ice, water, packaging) when none is supplied.
	DefaultDeductionPercent = decimal.NewFromInt(5)

	// DefaultCommissionPercent is the intermediary's cut when none is supplied.
	DefaultCommissionPercent = decimal.NewFromInt(2)
)

// Input is a single calculation request. Treat it as a value; the engine
// never modifies it.
type Input struct {
	GrossWeightKg     decimal.Decimal `json:"gross_weight_kg"`
	RatePerKg         decimal.Decimal `json:"rate_per_kg"`
	Method            Method          `json:"deduction_method"`
	DeductionPercent  decimal.Decimal `json:"deduction_percent"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
}

// NewInput returns an Input with the default deduction and commission.
func NewInput(grossWeightKg, ratePerKg decimal.Decimal, method Method) Input {
	return Input{
		GrossWeightKg:     grossWeightKg,
		RatePerKg:         ratePerKg,
		Method:            method,
		DeductionPercent:  DefaultDeductionPercent,
		CommissionPercent: DefaultCommissionPercent,
	}
}

// WithMethod returns a copy of the input using method m.
func (in Input) WithMethod(m Method) Input {
	in.Method = m
	return in
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the settled outcome of an Input.
//
// INVARIANTS:
//   - 0 <= NetWeightKg <= GrossWeightKg
//   - BaseAmount = NetWeightKg * RatePerKg
//   - CommissionAmount = BaseAmount * CommissionPercent / 100
//   - FinalAmount = BaseAmount - CommissionAmount
//   - GrossAmount = GrossWeightKg * RatePerKg, DeductionAmount = GrossAmount - BaseAmount
type Result struct {
	// Echoed from the input for traceability
	GrossWeightKg     decimal.Decimal `json:"gross_weight_kg"`
	RatePerKg         decimal.Decimal `json:"rate_per_kg"`
	Method            Method          `json:"deduction_method"`
	DeductionPercent  decimal.Decimal `json:"deduction_percent"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`

	NetWeightKg      decimal.Decimal `json:"net_weight_kg"`
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	DeductionAmount  decimal.Decimal `json:"deduction_amount"`
	BaseAmount       decimal.Decimal `json:"base_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	FinalAmount      decimal.Decimal `json:"final_amount"`
}

// Input reconstructs the input the result was computed from.
func (r Result) Input() Input {
	return Input{
		GrossWeightKg:     r.GrossWeightKg,
		RatePerKg:         r.RatePerKg,
		Method:            r.Method,
		DeductionPercent:  r.DeductionPercent,
		CommissionPercent: r.CommissionPercent,
	}
}

// Equal compares two results field by field by numeric value.
func (r Result) Equal(o Result) bool {
	return len(r.Diff(o)) == 0
}

// Diff returns the JSON names of the fields whose values differ.
func (r Result) Diff(o Result) []string {
	var fields []string
	if r.Method != o.Method {
		fields = append(fields, FieldMethod)
	}
	pairs := []struct {
		name string
		a, b decimal.Decimal
	}{
		{FieldGrossWeight, r.GrossWeightKg, o.GrossWeightKg},
		{FieldRate, r.RatePerKg, o.RatePerKg},
		{FieldDeductionPercent, r.DeductionPercent, o.DeductionPercent},
		{FieldCommissionPercent, r.CommissionPercent, o.CommissionPercent},
		{"net_weight_kg", r.NetWeightKg, o.NetWeightKg},
		{"gross_amount", r.GrossAmount, o.GrossAmount},
		{"deduction_amount", r.DeductionAmount, o.DeductionAmount},
		{"base_amount", r.BaseAmount, o.BaseAmount},
		{"commission_amount", r.CommissionAmount, o.CommissionAmount},
		{"final_amount", r.FinalAmount, o.FinalAmount},
	}
	for _, p := range pairs {
		if !p.a.Equal(p.b) {
			fields = append(fields, p.name)
		}
	}
	return fields
}

// =============================================================================
// COMPARISON
// =============================================================================

// Comparison holds both methods' results for the same sale and their deltas.
// Deltas are B minus A.
type Comparison struct {
	MethodA         Result          `json:"method_a"`
	MethodB         Result          `json:"method_b"`
	NetWeightDiff   decimal.Decimal `json:"net_weight_diff"`
	FinalAmountDiff decimal.Decimal `json:"final_amount_diff"`
}

// Percentages carries optional deduction/commission overrides for a
// comparison. A nil field means "use the default".
type Percentages struct {
	Deduction  *decimal.Decimal
	Commission *decimal.Decimal
}

func (p Percentages) deduction() decimal.Decimal {
	if p.Deduction == nil {
		return DefaultDeductionPercent
	}
	return *p.Deduction
}

func (p Percentages) commission() decimal.Decimal {
	if p.Commission == nil {
		return DefaultCommissionPercent
	}
	return *p.Commission
}
