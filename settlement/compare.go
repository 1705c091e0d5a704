package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// COMPARISON LAYER
// =============================================================================

// Compare settles the same weight/rate pair under both methods and reports
// the B-minus-A deltas. If either side is invalid the whole comparison fails;
// a one-sided comparison is never returned.
func Compare(grossWeightKg, ratePerKg decimal.Decimal, p Percentages) (Comparison, error) {
	in := Input{
		GrossWeightKg:     grossWeightKg,
		RatePerKg:         ratePerKg,
		DeductionPercent:  p.deduction(),
		CommissionPercent: p.commission(),
	}
	return CompareInput(in)
}

// CompareInput runs a comparison seeded from a full input. The input's own
// Method is ignored.
func CompareInput(in Input) (Comparison, error) {
	a, err := Compute(in.WithMethod(MethodA))
	if err != nil {
		return Comparison{}, err
	}
	b, err := Compute(in.WithMethod(MethodB))
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		MethodA:         a,
		MethodB:         b,
		NetWeightDiff:   b.NetWeightKg.Sub(a.NetWeightKg),
		FinalAmountDiff: b.FinalAmount.Sub(a.FinalAmount),
	}, nil
}
