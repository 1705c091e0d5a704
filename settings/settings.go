/*
Package settings provides typed market settings.

PURPOSE:
  A market picks one settlement method, a customary deduction and commission
  and how amounts are displayed. Settings are stored as JSON so they can be
  edited from the admin UI, and parsed here into a typed struct so that no
  loosely typed payload ever reaches the engine.

JSON SCHEMA:
  {
    "market_name": "Karwan Bazar",
    "default_method": "A",
    "deduction_percent": "5",
    "commission_percent": "2",
    "locale": "bn-BD",
    "numerals": "bengali",
    "grouping": "indian",
    "currency_symbol": "৳"
  }

KEY FEATURES:
  - Fills defaults for every missing field
  - Validates percentages with the engine's own rules
  - Builds engine inputs and display formatters

SEE ALSO:
  - settlement/compute.go: Validation rules reused here
  - presentation/format.go: Formatter built from settings
  - store/sqlite/sqlite.go, store/memory/memory.go: Settings persistence
*/
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fishledger/settlement-engine/presentation"
	"github.com/fishledger/settlement-engine/settlement"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid market settings")

const (
	DefaultLocale         = "en"
	DefaultCurrencySymbol = "৳"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the per-market configuration.
type Settings struct {
	MarketName        string            `json:"market_name"`
	DefaultMethod     settlement.Method `json:"default_method"`
	DeductionPercent  decimal.Decimal   `json:"deduction_percent"`
	CommissionPercent decimal.Decimal   `json:"commission_percent"`
	Locale            string            `json:"locale"`
	Numerals          string            `json:"numerals,omitempty"`
	Grouping          string            `json:"grouping,omitempty"`
	CurrencySymbol    string            `json:"currency_symbol"`
}

// settingsJSON mirrors Settings with optional fields so that missing values
// can be told apart from explicit zeros.
type settingsJSON struct {
	MarketName        string           `json:"market_name"`
	DefaultMethod     string           `json:"default_method"`
	DeductionPercent  *decimal.Decimal `json:"deduction_percent"`
	CommissionPercent *decimal.Decimal `json:"commission_percent"`
	Locale            string           `json:"locale"`
	Numerals          string           `json:"numerals"`
	Grouping          string           `json:"grouping"`
	CurrencySymbol    *string          `json:"currency_symbol"`
}

// Defaults returns the settings used before a market saves its own.
func Defaults() Settings {
	return Settings{
		DefaultMethod:     settlement.MethodA,
		DeductionPercent:  settlement.DefaultDeductionPercent,
		CommissionPercent: settlement.DefaultCommissionPercent,
		Locale:            DefaultLocale,
		CurrencySymbol:    DefaultCurrencySymbol,
	}
}

// Parse decodes JSON settings, fills defaults and validates.
func Parse(data []byte) (Settings, error) {
	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s := Defaults()
	s.MarketName = strings.TrimSpace(raw.MarketName)
	if raw.DefaultMethod != "" {
		m, err := settlement.ParseMethod(raw.DefaultMethod)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		s.DefaultMethod = m
	}
	if raw.DeductionPercent != nil {
		s.DeductionPercent = *raw.DeductionPercent
	}
	if raw.CommissionPercent != nil {
		s.CommissionPercent = *raw.CommissionPercent
	}
	if l := strings.TrimSpace(raw.Locale); l != "" {
		s.Locale = l
	}
	s.Numerals = strings.TrimSpace(raw.Numerals)
	s.Grouping = strings.TrimSpace(raw.Grouping)
	if raw.CurrencySymbol != nil {
		s.CurrencySymbol = *raw.CurrencySymbol
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks every field using the engine's rules where they apply.
func (s Settings) Validate() error {
	if !s.DefaultMethod.Valid() {
		return fmt.Errorf("%w: default_method must be A or B", ErrInvalidSettings)
	}
	if err := presentation.CheckDigits(s.DeductionPercent); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSettings, settlement.FieldDeductionPercent, err)
	}
	if err := presentation.CheckDigits(s.CommissionPercent); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSettings, settlement.FieldCommissionPercent, err)
	}
	if err := settlement.ValidatePercent(settlement.FieldDeductionPercent, s.DeductionPercent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := settlement.ValidatePercent(settlement.FieldCommissionPercent, s.CommissionPercent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if s.Numerals != "" {
		if _, err := presentation.ParseNumerals(s.Numerals); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	if s.Grouping != "" {
		if _, err := presentation.ParseGrouping(s.Grouping); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	return nil
}

// Marshal encodes settings for storage.
func (s Settings) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// =============================================================================
// ENGINE AND FORMATTER WIRING
// =============================================================================

// Overrides are per-sale values that replace the market defaults.
type Overrides struct {
	Method            *settlement.Method
	DeductionPercent  *decimal.Decimal
	CommissionPercent *decimal.Decimal
}

// Input builds an engine input from the market defaults and per-sale overrides.
func (s Settings) Input(grossWeightKg, ratePerKg decimal.Decimal, o Overrides) settlement.Input {
	in := settlement.Input{
		GrossWeightKg:     grossWeightKg,
		RatePerKg:         ratePerKg,
		Method:            s.DefaultMethod,
		DeductionPercent:  s.DeductionPercent,
		CommissionPercent: s.CommissionPercent,
	}
	if o.Method != nil {
		in.Method = *o.Method
	}
	if o.DeductionPercent != nil {
		in.DeductionPercent = *o.DeductionPercent
	}
	if o.CommissionPercent != nil {
		in.CommissionPercent = *o.CommissionPercent
	}
	return in
}

// Percentages returns the comparison percentages for the market, with
// per-sale overrides applied.
func (s Settings) Percentages(o Overrides) settlement.Percentages {
	d, c := s.DeductionPercent, s.CommissionPercent
	if o.DeductionPercent != nil {
		d = *o.DeductionPercent
	}
	if o.CommissionPercent != nil {
		c = *o.CommissionPercent
	}
	return settlement.Percentages{Deduction: &d, Commission: &c}
}

// Formatter builds the display formatter. Explicit numerals/grouping win over
// what the locale implies.
func (s Settings) Formatter() presentation.Formatter {
	f := presentation.ForLocale(s.Locale)
	if n, err := presentation.ParseNumerals(s.Numerals); err == nil && s.Numerals != "" {
		f.Numerals = n
	}
	if g, err := presentation.ParseGrouping(s.Grouping); err == nil && s.Grouping != "" {
		f.Grouping = g
	}
	f.CurrencySymbol = s.CurrencySymbol
	return f
}

// =============================================================================
// STORE
// =============================================================================

// Store persists the market settings.
type Store interface {
	// LoadSettings returns (nil, nil) when nothing was saved yet.
	LoadSettings(ctx context.Context) ([]byte, error)
	SaveSettings(ctx context.Context, data []byte) error
}

// Load reads settings from the store, falling back to Defaults.
func Load(ctx context.Context, store Store) (Settings, error) {
	data, err := store.LoadSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if len(data) == 0 {
		return Defaults(), nil
	}
	return Parse(data)
}

// Save validates and writes settings.
func Save(ctx context.Context, store Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return store.SaveSettings(ctx, data)
}
