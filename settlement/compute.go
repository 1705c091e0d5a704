/*
compute.go - Calculation core

PURPOSE:
  Converts an Input into a Result under the input's Method. Validation runs
  first and rejects the request before any arithmetic happens.

METHODS:
  Method A ("deduct-then-rate"):
    net  = gross * (1 - deduction/100)
    base = net * rate

  Method B ("rate-then-deduct"):
    grossAmount = gross * rate
    base        = grossAmount * (1 - deduction/100)
    net         = gross * (1 - deduction/100)   (display only)

  Both:
    commission = base * commission/100
    final      = base - commission

NUMERIC POLICY:
  decimal.Decimal multiplication and subtraction are exact, and percentages
  are divided by 100 with a decimal shift, so nothing is rounded here.
  Rounding to paise or grams belongs to the presentation package.

SEE ALSO:
  - compare.go: Runs Compute once per method
  - presentation/format.go: Display rounding
*/
package settlement

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Compute settles a single sale. It is safe for concurrent use.
func Compute(in Input) (Result, error) {
	if err := Validate(in); err != nil {
		return Result{}, err
	}

	retained := one.Sub(in.DeductionPercent.Shift(-2))
	grossAmount := in.GrossWeightKg.Mul(in.RatePerKg)
	netWeight := in.GrossWeightKg.Mul(retained)

	var base decimal.Decimal
	switch in.Method {
	case MethodA:
		base = netWeight.Mul(in.RatePerKg)
	case MethodB:
		base = grossAmount.Mul(retained)
	}

	commission := base.Mul(in.CommissionPercent).Shift(-2)

	return Result{
		GrossWeightKg:     in.GrossWeightKg,
		RatePerKg:         in.RatePerKg,
		Method:            in.Method,
		DeductionPercent:  in.DeductionPercent,
		CommissionPercent: in.CommissionPercent,
		NetWeightKg:       netWeight,
		GrossAmount:       grossAmount,
		DeductionAmount:   grossAmount.Sub(base),
		BaseAmount:        base,
		CommissionAmount:  commission,
		FinalAmount:       base.Sub(commission),
	}, nil
}

// Validate checks an input without computing anything. Fields are checked in
// declaration order and the first violation is returned.
func Validate(in Input) error {
	if !in.GrossWeightKg.IsPositive() {
		return &ValidationError{Field: FieldGrossWeight, Constraint: ConstraintMustBePositive, Value: in.GrossWeightKg.String()}
	}
	if !in.RatePerKg.IsPositive() {
		return &ValidationError{Field: FieldRate, Constraint: ConstraintMustBePositive, Value: in.RatePerKg.String()}
	}
	if !in.Method.Valid() {
		return &ValidationError{Field: FieldMethod, Constraint: ConstraintUnknownMethod, Value: string(in.Method)}
	}
	if !isPercent(in.DeductionPercent) {
		return &ValidationError{Field: FieldDeductionPercent, Constraint: ConstraintOutOfRange, Value: in.DeductionPercent.String()}
	}
	if !isPercent(in.CommissionPercent) {
		return &ValidationError{Field: FieldCommissionPercent, Constraint: ConstraintOutOfRange, Value: in.CommissionPercent.String()}
	}
	return nil
}

// ValidatePercent applies the [0,100] rule to a single named field.
func ValidatePercent(field string, v decimal.Decimal) error {
	if !isPercent(v) {
		return &ValidationError{Field: field, Constraint: ConstraintOutOfRange, Value: v.String()}
	}
	return nil
}

func isPercent(v decimal.Decimal) bool {
	return !v.IsNegative() && !v.GreaterThan(hundred)
}

// InputFromFloat builds an Input from float boundary values (JSON numbers,
// form fields). NaN and infinities cannot be represented as decimals and are
// rejected; range checks are left to Compute.
func InputFromFloat(grossWeightKg, ratePerKg float64, method Method, deductionPercent, commissionPercent float64) (Input, error) {
	fields := []struct {
		name string
		v    float64
	}{
		{FieldGrossWeight, grossWeightKg},
		{FieldRate, ratePerKg},
		{FieldDeductionPercent, deductionPercent},
		{FieldCommissionPercent, commissionPercent},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Input{}, &ValidationError{
				Field:      f.name,
				Constraint: ConstraintNotFinite,
				Value:      strconv.FormatFloat(f.v, 'g', -1, 64),
			}
		}
	}
	return Input{
		GrossWeightKg:     decimal.NewFromFloat(grossWeightKg),
		RatePerKg:         decimal.NewFromFloat(ratePerKg),
		Method:            method,
		DeductionPercent:  decimal.NewFromFloat(deductionPercent),
		CommissionPercent: decimal.NewFromFloat(commissionPercent),
	}, nil
}
