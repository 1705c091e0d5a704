/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes settlement computation, comparison, record keeping, reports and
  market settings via REST API. Handles HTTP request/response and JSON
  serialization, and delegates to the engine and its collaborators.

ENDPOINTS:
  Calculations:
    POST   /api/calculations/compute     Compute one sale (nothing stored)
    POST   /api/calculations/compare     Method A vs Method B

  Transactions:
    POST   /api/transactions             Compute and record a sale
    GET    /api/transactions             List by day range (?from&to&deleted)
    GET    /api/transactions/{id}        Get one record
    DELETE /api/transactions/{id}        Soft delete
    POST   /api/transactions/{id}/verify Recompute and compare

  Reports:
    GET    /api/reports/daily            Daily summary (?date)

  Settings:
    GET    /api/settings                 Current market settings
    PUT    /api/settings                 Replace market settings

DISPLAY:
  ?numerals=western|bengali and ?locale=<BCP-47> pick the display numerals
  per request. Without them the stored market settings decide.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON or query parameters
  - 404: Record not found
  - 409: Duplicate idempotency key, already deleted
  - 422: Input rejected by the engine or DTO validation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fishledger/settlement-engine/ledger"
	"github.com/fishledger/settlement-engine/obs"
	"github.com/fishledger/settlement-engine/presentation"
	"github.com/fishledger/settlement-engine/report"
	"github.com/fishledger/settlement-engine/settings"
	"github.com/fishledger/settlement-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Ledger
	Settings settings.Store
	Reports  *report.Service
	Metrics  *obs.DomainMetrics
	Logger   zerolog.Logger

	// Now decides the default day for listings and reports.
	Now func() time.Time

	validate *validator.Validate
}

// NewHandler creates a handler over a store that keeps both records and
// settings.
func NewHandler(store interface {
	ledger.Store
	settings.Store
}, workers int, logger zerolog.Logger, metrics *obs.DomainMetrics) *Handler {
	return &Handler{
		Ledger:   ledger.New(store),
		Settings: store,
		Reports: &report.Service{
			Store:   store,
			Workers: workers,
			Logger:  logger.With().Str("component", "report").Logger(),
			Metrics: metrics,
		},
		Metrics:  metrics,
		Logger:   logger,
		Now:      time.Now,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// Compute settles one sale without storing it.
// POST /api/calculations/compute
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, f, ok := h.display(w, r)
	if !ok {
		return
	}

	in, err := h.input(s, req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := settlement.Compute(in)
	if err != nil {
		h.Metrics.ObserveCompute(string(in.Method), obs.OutcomeInvalid)
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ObserveCompute(string(in.Method), obs.OutcomeOK)

	writeJSON(w, http.StatusOK, ComputeResponse{Result: res, Display: f.FormatResult(res)})
}

// Compare settles one sale under both methods.
// POST /api/calculations/compare
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, f, ok := h.display(w, r)
	if !ok {
		return
	}

	p := s.Percentages(settings.Overrides{
		DeductionPercent:  req.DeductionPercent,
		CommissionPercent: req.CommissionPercent,
	})
	cmp, err := settlement.Compare(*req.GrossWeightKg, *req.RatePerKg, p)
	if err != nil {
		h.Metrics.ObserveCompare(obs.OutcomeInvalid)
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ObserveCompare(obs.OutcomeOK)

	writeJSON(w, http.StatusOK, CompareResponse{Comparison: cmp, Display: f.FormatComparison(cmp)})
}

// input builds the engine input from a request and the market defaults.
func (h *Handler) input(s settings.Settings, req ComputeRequest) (settlement.Input, error) {
	o := settings.Overrides{
		DeductionPercent:  req.DeductionPercent,
		CommissionPercent: req.CommissionPercent,
	}
	if strings.TrimSpace(req.Method) != "" {
		m, err := settlement.ParseMethod(req.Method)
		if err != nil {
			return settlement.Input{}, err
		}
		o.Method = &m
	}
	return s.Input(*req.GrossWeightKg, *req.RatePerKg, o), nil
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction computes and records a sale.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	s, f, ok := h.display(w, r)
	if !ok {
		return
	}

	in, err := h.input(s, req.ComputeRequest)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	rec, err := h.Ledger.Record(r.Context(), ledger.RecordRequest{
		IdempotencyKey: req.IdempotencyKey,
		Party:          strings.TrimSpace(req.Party),
		Item:           strings.TrimSpace(req.Item),
		Input:          in,
	})
	if err != nil {
		outcome := obs.OutcomeError
		if errors.Is(err, settlement.ErrInvalidInput) {
			outcome = obs.OutcomeInvalid
		}
		h.Metrics.ObserveCompute(string(in.Method), outcome)
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ObserveCompute(string(in.Method), obs.OutcomeOK)

	writeJSON(w, http.StatusCreated, TransactionDTO{Record: rec, Display: f.FormatResult(rec.Result)})
}

// ListTransactions returns records for a day range.
// GET /api/transactions?from=YYYY-MM-DD&to=YYYY-MM-DD&deleted=true
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := h.today()

	from, err := parseDay(q.Get("from"), today)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "from must be YYYY-MM-DD", err)
		return
	}
	to, err := parseDay(q.Get("to"), from)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "to must be YYYY-MM-DD", err)
		return
	}
	includeDeleted := q.Get("deleted") == "true" || q.Get("deleted") == "1"

	_, f, ok := h.display(w, r)
	if !ok {
		return
	}

	// to is inclusive for clients
	records, err := h.Ledger.List(r.Context(), from, to.AddDate(0, 0, 1), includeDeleted)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ListTransactionsResponse{
		From:         from.Format(time.DateOnly),
		To:           to.Format(time.DateOnly),
		Transactions: make([]TransactionDTO, len(records)),
	}
	for i, rec := range records {
		resp.Transactions[i] = TransactionDTO{Record: rec, Display: f.FormatResult(rec.Result)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction returns one record, deleted or not.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	_, f, ok := h.display(w, r)
	if !ok {
		return
	}

	rec, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionDTO{Record: rec, Display: f.FormatResult(rec.Result)})
}

// DeleteTransaction soft deletes a record.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyTransaction recomputes a stored record and reports differences.
// POST /api/transactions/{id}/verify
func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	v, err := h.Ledger.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	switch {
	case v.InputError != "":
		h.Metrics.ObserveIntegrity("invalid_input")
	case v.Valid:
		h.Metrics.ObserveIntegrity("match")
	default:
		h.Metrics.ObserveIntegrity("mismatch")
		h.Logger.Warn().
			Str("record_id", v.RecordID).
			Strs("fields", v.Mismatches).
			Msg("stored result differs from recomputation")
	}
	writeJSON(w, http.StatusOK, v)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// DailyReport summarizes one day of live records.
// GET /api/reports/daily?date=YYYY-MM-DD
func (h *Handler) DailyReport(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.URL.Query().Get("date"), h.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "date must be YYYY-MM-DD", err)
		return
	}

	_, f, ok := h.display(w, r)
	if !ok {
		return
	}

	summary, err := h.Reports.Daily(r.Context(), day)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var resp DailyReportResponse
	resp.Summary = summary
	resp.Display.Totals = formatTotals(f, summary.Totals)
	resp.Display.ByMethod = make(map[settlement.Method]FormattedTotals, len(summary.ByMethod))
	for m, t := range summary.ByMethod {
		resp.Display.ByMethod[m] = formatTotals(f, t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func formatTotals(f presentation.Formatter, t report.Totals) FormattedTotals {
	return FormattedTotals{
		Count:            t.Count,
		GrossWeightKg:    f.FormatWeight(t.GrossWeightKg),
		NetWeightKg:      f.FormatWeight(t.NetWeightKg),
		GrossAmount:      f.FormatMoney(t.GrossAmount),
		DeductionAmount:  f.FormatMoney(t.DeductionAmount),
		BaseAmount:       f.FormatMoney(t.BaseAmount),
		CommissionAmount: f.FormatMoney(t.CommissionAmount),
		FinalAmount:      f.FormatMoney(t.FinalAmount),
	}
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the market settings, defaults if none were saved.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := settings.Load(r.Context(), h.Settings)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutSettings replaces the market settings. Missing fields get defaults.
// PUT /api/settings
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !h.decode(w, r, &raw) {
		return
	}

	s, err := settings.Parse(raw)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := settings.Save(r.Context(), h.Settings, s); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Logger.Info().
		Str("market", s.MarketName).
		Str("default_method", s.DefaultMethod.String()).
		Msg("market settings updated")
	writeJSON(w, http.StatusOK, s)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body, runs struct validation and bounds the digits of
// decimal fields. It writes the error response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", err)
		return false
	}
	if reflect.Indirect(reflect.ValueOf(dst)).Kind() != reflect.Struct {
		return true
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusUnprocessableEntity, "validation_failed",
				fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()),
				FieldError{Field: fe.Field(), Constraint: fe.Tag()})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err)
		return false
	}
	if c, ok := dst.(interface{ checkDigits() *FieldError }); ok {
		if fe := c.checkDigits(); fe != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed",
				fmt.Sprintf("%s has too many digits", fe.Field), *fe)
			return false
		}
	}
	return true
}

// display loads the market settings and builds the formatter for this
// request. Query parameters override the stored numerals.
func (h *Handler) display(w http.ResponseWriter, r *http.Request) (settings.Settings, presentation.Formatter, bool) {
	s, err := settings.Load(r.Context(), h.Settings)
	if err != nil {
		h.writeDomainError(w, err)
		return settings.Settings{}, presentation.Formatter{}, false
	}
	f := s.Formatter()

	q := r.URL.Query()
	if locale := strings.TrimSpace(q.Get("locale")); locale != "" {
		lf := presentation.ForLocale(locale)
		f.Numerals, f.Grouping = lf.Numerals, lf.Grouping
	}
	if numerals := strings.TrimSpace(q.Get("numerals")); numerals != "" {
		n, err := presentation.ParseNumerals(numerals)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "numerals must be western or bengali", err)
			return settings.Settings{}, presentation.Formatter{}, false
		}
		f.Numerals = n
	}
	return s, f, true
}

func (h *Handler) today() time.Time {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	y, m, d := now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseDay(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return time.Parse(time.DateOnly, value)
}

// writeDomainError maps engine and collaborator errors to HTTP responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	if ve, ok := settlement.AsValidationError(err); ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", ve.Error(), FieldError{
			Field:      ve.Field,
			Constraint: string(ve.Constraint),
			Value:      ve.Value,
		})
		return
	}

	switch {
	case errors.Is(err, settlement.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, settings.ErrInvalidSettings):
		writeError(w, http.StatusUnprocessableEntity, "invalid_settings", err.Error(), nil)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "Transaction not found", nil)
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "duplicate_idempotency_key", "A transaction with this idempotency key already exists", nil)
	case errors.Is(err, ledger.ErrAlreadyDeleted):
		writeError(w, http.StatusConflict, "already_deleted", "Transaction is already deleted", nil)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "cancelled", "Request cancelled", nil)
	default:
		h.Logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := ErrorResponse{Error: message, Code: code}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}
