package settlement

import (
	"errors"
	"fmt"
)

// ErrInvalidInput matches every *ValidationError via errors.Is.
var ErrInvalidInput = errors.New("invalid calculation input")

// Field names reported by ValidationError. They match the JSON names of Input.
const (
	FieldGrossWeight       = "gross_weight_kg"
	FieldRate              = "rate_per_kg"
	FieldMethod            = "deduction_method"
	FieldDeductionPercent  = "deduction_percent"
	FieldCommissionPercent = "commission_percent"
)

// Constraint names the rule a field violated.
type Constraint string

const (
	ConstraintMustBePositive Constraint = "must_be_positive"
	ConstraintOutOfRange     Constraint = "out_of_range"
	ConstraintUnknownMethod  Constraint = "unknown_method"
	ConstraintNotFinite      Constraint = "not_finite"
)

// ValidationError is the only error the engine returns. It is raised before
// any part of the result is computed.
type ValidationError struct {
	Field      string
	Constraint Constraint
	Value      string
}

func (e *ValidationError) Error() string {
	switch e.Constraint {
	case ConstraintMustBePositive:
		return fmt.Sprintf("%s must be greater than zero, got %s", e.Field, e.Value)
	case ConstraintOutOfRange:
		return fmt.Sprintf("%s must be between 0 and 100, got %s", e.Field, e.Value)
	case ConstraintUnknownMethod:
		return fmt.Sprintf("%s must be A or B, got %q", e.Field, e.Value)
	default:
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Constraint, e.Value)
	}
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// AsValidationError extracts the *ValidationError carried by err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
