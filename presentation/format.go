/*
Package presentation formats settlement results for display.

PURPOSE:
  The engine hands out unrounded decimals. This package is the single place
  where they are rounded (paise / grams), grouped (1,234,567 or 12,34,567)
  and written in Western or Bengali digits. Nothing formatted here is ever
  fed back into a computation.

NUMERALS:
  The numeral system is an explicit Formatter field chosen by the caller
  (query parameter, stored market settings). It is never read from global
  state. NumeralsForLocale maps a BCP-47 tag to a numeral system for callers
  that only know the user's locale.

ROUNDING:
  Half away from zero, money to 2 places and weight to 3 places by default.

SEE ALSO:
  - settlement/types.go: Result and Comparison
  - settings/settings.go: Per-market formatter defaults
*/
package presentation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/fishledger/settlement-engine/settlement"
)

// =============================================================================
// NUMERALS AND GROUPING
// =============================================================================

// Numerals selects the digit glyphs used for output.
type Numerals string

const (
	NumeralsWestern Numerals = "western"
	NumeralsBengali Numerals = "bengali"
)

// Grouping selects how integer digits are separated.
type Grouping string

const (
	// GroupingWestern separates every three digits: 1,234,567.
	GroupingWestern Grouping = "western"
	// GroupingIndian separates the last three digits, then pairs: 12,34,567.
	GroupingIndian Grouping = "indian"
)

// ParseNumerals accepts "western"/"latn" and "bengali"/"beng"/"bn".
func ParseNumerals(s string) (Numerals, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "western", "latn", "en":
		return NumeralsWestern, nil
	case "bengali", "beng", "bn", "bangla":
		return NumeralsBengali, nil
	}
	return "", fmt.Errorf("unknown numeral system %q", s)
}

// ParseGrouping accepts "western" and "indian".
func ParseGrouping(s string) (Grouping, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "western", "":
		return GroupingWestern, nil
	case "indian", "lakh":
		return GroupingIndian, nil
	}
	return "", fmt.Errorf("unknown digit grouping %q", s)
}

// NumeralsForLocale resolves a locale tag such as "bn-BD" or "en-US".
// Unparseable tags fall back to Western digits.
func NumeralsForLocale(tag string) Numerals {
	if isBengali(tag) {
		return NumeralsBengali
	}
	return NumeralsWestern
}

// GroupingForLocale returns Indian grouping for Bengali locales.
func GroupingForLocale(tag string) Grouping {
	if isBengali(tag) {
		return GroupingIndian
	}
	return GroupingWestern
}

func isBengali(tag string) bool {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return false
	}
	base, _ := t.Base()
	bn, _ := language.Bengali.Base()
	return base == bn
}

// =============================================================================
// FORMATTER
// =============================================================================

const (
	DefaultMoneyPlaces  int32 = 2
	DefaultWeightPlaces int32 = 3
)

// Digit limits for values accepted from outside. Rendering cost grows with the
// number of digits, so callers check input with CheckDigits at their boundary.
const (
	MaxIntegerDigits  = 12
	MaxFractionDigits = 12
)

var (
	ErrTooManyIntegerDigits  = errors.New("too many integer digits")
	ErrTooManyFractionDigits = errors.New("too many fraction digits")
)

// CheckDigits rejects decimals beyond MaxIntegerDigits or MaxFractionDigits.
// It reads only the coefficient length and exponent, so "1e300000" is
// rejected without being expanded.
func CheckDigits(d decimal.Decimal) error {
	exp := int64(d.Exponent())
	if int64(d.NumDigits())+exp > MaxIntegerDigits {
		return ErrTooManyIntegerDigits
	}
	if -exp > MaxFractionDigits {
		return ErrTooManyFractionDigits
	}
	return nil
}

// Formatter renders decimals for one numeral system and grouping.
type Formatter struct {
	Numerals       Numerals
	Grouping       Grouping
	MoneyPlaces    int32
	WeightPlaces   int32
	CurrencySymbol string
}

// NewFormatter returns a formatter with default precision and no currency symbol.
func NewFormatter(n Numerals, g Grouping) Formatter {
	return Formatter{
		Numerals:     n,
		Grouping:     g,
		MoneyPlaces:  DefaultMoneyPlaces,
		WeightPlaces: DefaultWeightPlaces,
	}
}

// ForLocale returns a formatter whose numerals and grouping follow the locale.
func ForLocale(tag string) Formatter {
	return NewFormatter(NumeralsForLocale(tag), GroupingForLocale(tag))
}

// RoundMoney rounds an amount to the formatter's money precision.
func (f Formatter) RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(f.moneyPlaces())
}

// RoundWeight rounds a weight to the formatter's weight precision.
func (f Formatter) RoundWeight(d decimal.Decimal) decimal.Decimal {
	return d.Round(f.weightPlaces())
}

// FormatMoney renders a rounded, grouped amount with the currency symbol.
func (f Formatter) FormatMoney(d decimal.Decimal) string {
	s := f.number(d, f.moneyPlaces())
	if f.CurrencySymbol == "" {
		return s
	}
	if strings.HasPrefix(s, "-") {
		return "-" + f.CurrencySymbol + s[1:]
	}
	return f.CurrencySymbol + s
}

// FormatWeight renders a rounded, grouped weight in kilograms (no unit).
func (f Formatter) FormatWeight(d decimal.Decimal) string {
	return f.number(d, f.weightPlaces())
}

// FormatPercent renders a percentage without padding, e.g. "7.5%".
func (f Formatter) FormatPercent(d decimal.Decimal) string {
	return f.digits(d.String()) + "%"
}

func (f Formatter) moneyPlaces() int32 {
	if f.MoneyPlaces < 0 {
		return DefaultMoneyPlaces
	}
	return f.MoneyPlaces
}

func (f Formatter) weightPlaces() int32 {
	if f.WeightPlaces < 0 {
		return DefaultWeightPlaces
	}
	return f.WeightPlaces
}

func (f Formatter) number(d decimal.Decimal, places int32) string {
	s := d.Round(places).StringFixed(places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	out := sign + group(intPart, f.Grouping)
	if hasFrac {
		out += "." + frac
	}
	return f.digits(out)
}

func group(digits string, g Grouping) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	size := 3
	if g == GroupingIndian {
		size = 2
	}

	// Collected right to left, then reversed.
	parts := make([]string, 0, len(head)/size+2)
	parts = append(parts, tail)
	for len(head) > size {
		parts = append(parts, head[len(head)-size:])
		head = head[:len(head)-size]
	}
	parts = append(parts, head)
	slices.Reverse(parts)
	return strings.Join(parts, ",")
}

func (f Formatter) digits(s string) string {
	if f.Numerals != NumeralsBengali {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 3)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			r = '০' + (r - '0')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// RESULT RENDERING
// =============================================================================

// FormattedResult is a display-ready copy of settlement.Result.
type FormattedResult struct {
	Method            string `json:"deduction_method"`
	GrossWeightKg     string `json:"gross_weight_kg"`
	RatePerKg         string `json:"rate_per_kg"`
	DeductionPercent  string `json:"deduction_percent"`
	CommissionPercent string `json:"commission_percent"`
	NetWeightKg       string `json:"net_weight_kg"`
	GrossAmount       string `json:"gross_amount"`
	DeductionAmount   string `json:"deduction_amount"`
	BaseAmount        string `json:"base_amount"`
	CommissionAmount  string `json:"commission_amount"`
	FinalAmount       string `json:"final_amount"`
}

// FormattedComparison is a display-ready copy of settlement.Comparison.
type FormattedComparison struct {
	MethodA         FormattedResult `json:"method_a"`
	MethodB         FormattedResult `json:"method_b"`
	NetWeightDiff   string          `json:"net_weight_diff"`
	FinalAmountDiff string          `json:"final_amount_diff"`
}

// FormatResult renders every field of r.
func (f Formatter) FormatResult(r settlement.Result) FormattedResult {
	return FormattedResult{
		Method:            r.Method.String(),
		GrossWeightKg:     f.FormatWeight(r.GrossWeightKg),
		RatePerKg:         f.FormatMoney(r.RatePerKg),
		DeductionPercent:  f.FormatPercent(r.DeductionPercent),
		CommissionPercent: f.FormatPercent(r.CommissionPercent),
		NetWeightKg:       f.FormatWeight(r.NetWeightKg),
		GrossAmount:       f.FormatMoney(r.GrossAmount),
		DeductionAmount:   f.FormatMoney(r.DeductionAmount),
		BaseAmount:        f.FormatMoney(r.BaseAmount),
		CommissionAmount:  f.FormatMoney(r.CommissionAmount),
		FinalAmount:       f.FormatMoney(r.FinalAmount),
	}
}

// FormatComparison renders both sides and the deltas.
func (f Formatter) FormatComparison(c settlement.Comparison) FormattedComparison {
	return FormattedComparison{
		MethodA:         f.FormatResult(c.MethodA),
		MethodB:         f.FormatResult(c.MethodB),
		NetWeightDiff:   f.FormatWeight(c.NetWeightDiff),
		FinalAmountDiff: f.FormatMoney(c.FinalAmountDiff),
	}
}
