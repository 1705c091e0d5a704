/*
handlers_test.go - HTTP tests for the settlement API

Tests for:
- Compute/compare golden responses and display blocks
- 422 responses naming the offending field
- Transaction lifecycle (record, duplicate, verify, delete)
- Daily report and market settings
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fishledger/settlement-engine/obs"
	"github.com/fishledger/settlement-engine/store/sqlite"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := prometheus.NewRegistry()
	h := NewHandler(store, 2, zerolog.Nop(), obs.NewDomainMetrics("test", registry))
	h.Now = func() time.Time { return fixedNow }
	h.Ledger.Now = func() time.Time { return fixedNow }

	router := NewRouter(h, RouterOptions{
		HTTPMetrics: obs.NewHTTPMetrics("test", registry),
		Gatherer:    registry,
		Pinger:      store,
	})
	return &testServer{handler: h, router: router}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

// get walks nested JSON objects.
func get(t *testing.T, m map[string]any, path ...string) any {
	t.Helper()
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		require.True(t, ok, "expected object at %q", p)
		cur = obj[p]
	}
	return cur
}

// =============================================================================
// CALCULATIONS
// =============================================================================

func TestCompute_GoldenMethodA(t *testing.T) {
	// GIVEN: 100 kg at 50 per kg, Method A, default percentages
	// WHEN: Computing
	// THEN: net 95, base 4750, commission 95, final 4655

	s := newTestServer(t)
	rr, body := s.do(t, http.MethodPost, "/api/calculations/compute",
		`{"gross_weight_kg": 100, "rate_per_kg": "50", "deduction_method": "A"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "95", get(t, body, "result", "net_weight_kg"))
	assert.Equal(t, "4750", get(t, body, "result", "base_amount"))
	assert.Equal(t, "95", get(t, body, "result", "commission_amount"))
	assert.Equal(t, "4655", get(t, body, "result", "final_amount"))
	assert.Equal(t, "A", get(t, body, "result", "deduction_method"))
	assert.Equal(t, "৳4,655.00", get(t, body, "display", "final_amount"))
}

func TestCompute_MethodBShowsIntermediates(t *testing.T) {
	s := newTestServer(t)
	rr, body := s.do(t, http.MethodPost, "/api/calculations/compute",
		`{"gross_weight_kg": "100", "rate_per_kg": "50", "deduction_method": "b"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "B", get(t, body, "result", "deduction_method"))
	assert.Equal(t, "5000", get(t, body, "result", "gross_amount"))
	assert.Equal(t, "250", get(t, body, "result", "deduction_amount"))
	assert.Equal(t, "4655", get(t, body, "result", "final_amount"))
}

func TestCompute_BengaliNumeralsPerRequest(t *testing.T) {
	s := newTestServer(t)

	rr, body := s.do(t, http.MethodPost, "/api/calculations/compute?numerals=bengali",
		`{"gross_weight_kg": 100, "rate_per_kg": 50}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "৳৪,৬৫৫.০০", get(t, body, "display", "final_amount"))
	assert.Equal(t, "4655", get(t, body, "result", "final_amount"), "raw values stay western")

	rr, body = s.do(t, http.MethodPost, "/api/calculations/compute?locale=bn-BD",
		`{"gross_weight_kg": 1000, "rate_per_kg": 500}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "৳৪,৬৫,৫০০.০০", get(t, body, "display", "final_amount"))

	rr, _ = s.do(t, http.MethodPost, "/api/calculations/compute?numerals=roman",
		`{"gross_weight_kg": 100, "rate_per_kg": 50}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompute_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		field      string
		constraint string
	}{
		{"zero weight", `{"gross_weight_kg": 0, "rate_per_kg": 50}`, 422, "gross_weight_kg", "must_be_positive"},
		{"negative rate", `{"gross_weight_kg": 10, "rate_per_kg": "-1"}`, 422, "rate_per_kg", "must_be_positive"},
		{"unknown method", `{"gross_weight_kg": 10, "rate_per_kg": 5, "deduction_method": "C"}`, 422, "deduction_method", "unknown_method"},
		{"deduction over 100", `{"gross_weight_kg": 10, "rate_per_kg": 5, "deduction_percent": 101}`, 422, "deduction_percent", "out_of_range"},
		{"negative commission", `{"gross_weight_kg": 10, "rate_per_kg": 5, "commission_percent": -0.5}`, 422, "commission_percent", "out_of_range"},
		{"missing rate", `{"gross_weight_kg": 10}`, 422, "rate_per_kg", "required"},
		{"weight exponent too large", `{"gross_weight_kg":"1e50000","rate_per_kg":"1"}`, 422, "gross_weight_kg", "too_large"},
		{"rate exponent too small", `{"gross_weight_kg": 10, "rate_per_kg": 1e-300000}`, 422, "rate_per_kg", "too_precise"},
		{"percent exponent too large", `{"gross_weight_kg": 10, "rate_per_kg": 5, "deduction_percent": "1e300000"}`, 422, "deduction_percent", "too_large"},
		{"thirteen integer digits", `{"gross_weight_kg": 1234567890123, "rate_per_kg": 5}`, 422, "gross_weight_kg", "too_large"},
		{"weight is text", `{"gross_weight_kg": "ten", "rate_per_kg": 5}`, 400, "", ""},
		{"broken json", `{"gross_weight_kg":`, 400, "", ""},
	}

	s := newTestServer(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := s.do(t, http.MethodPost, "/api/calculations/compute", tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			if tc.field == "" {
				return
			}
			assert.Equal(t, "validation_failed", body["code"])
			assert.Equal(t, tc.field, get(t, body, "details", "field"))
			assert.Equal(t, tc.constraint, get(t, body, "details", "constraint"))
		})
	}
}

func TestCompare_Golden(t *testing.T) {
	s := newTestServer(t)
	rr, body := s.do(t, http.MethodPost, "/api/calculations/compare",
		`{"gross_weight_kg": 100, "rate_per_kg": 50}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "4655", get(t, body, "comparison", "method_a", "final_amount"))
	assert.Equal(t, "4655", get(t, body, "comparison", "method_b", "final_amount"))
	assert.Equal(t, "0", get(t, body, "comparison", "final_amount_diff"))
	assert.Equal(t, "B", get(t, body, "comparison", "method_b", "deduction_method"))
	assert.Equal(t, "৳0.00", get(t, body, "display", "final_amount_diff"))
}

func TestCompare_InvalidFailsWhole(t *testing.T) {
	s := newTestServer(t)
	rr, body := s.do(t, http.MethodPost, "/api/calculations/compare",
		`{"gross_weight_kg": 100, "rate_per_kg": 50, "deduction_percent": 150}`)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "deduction_percent", get(t, body, "details", "field"))
	assert.Nil(t, body["comparison"])
}

func TestCompare_RejectsHugeExponentBeforeFormatting(t *testing.T) {
	s := newTestServer(t)
	rr, body := s.do(t, http.MethodPost, "/api/calculations/compare",
		`{"gross_weight_kg": 100, "rate_per_kg": "1e300000"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "rate_per_kg", get(t, body, "details", "field"))
	assert.Equal(t, "too_large", get(t, body, "details", "constraint"))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	// Record
	rr, body := s.do(t, http.MethodPost, "/api/transactions",
		`{"gross_weight_kg": 100, "rate_per_kg": 50, "party": "Rahim", "item": "Hilsa"}`,
		"Idempotency-Key", "tablet-3:17")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "tablet-3:17", body["idempotency_key"])
	assert.Equal(t, "4655", get(t, body, "result", "final_amount"))
	assert.Equal(t, "৳4,655.00", get(t, body, "display", "final_amount"))

	// Retry with the same key
	rr, body = s.do(t, http.MethodPost, "/api/transactions",
		`{"gross_weight_kg": 100, "rate_per_kg": 50}`,
		"Idempotency-Key", "tablet-3:17")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "duplicate_idempotency_key", body["code"])

	// Invalid input stores nothing
	rr, _ = s.do(t, http.MethodPost, "/api/transactions",
		`{"gross_weight_kg": -1, "rate_per_kg": 50}`, "Idempotency-Key", "tablet-3:18")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	// One stored, one rejected by the store, one rejected by the engine
	computations := s.handler.Metrics.Computations
	assert.Equal(t, float64(1), testutil.ToFloat64(computations.WithLabelValues("A", obs.OutcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(computations.WithLabelValues("A", obs.OutcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(computations.WithLabelValues("A", obs.OutcomeInvalid)))

	// Get and verify
	rr, body = s.do(t, http.MethodGet, "/api/transactions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Hilsa", body["item"])

	rr, body = s.do(t, http.MethodPost, "/api/transactions/"+id+"/verify", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["valid"])

	// List for the day
	rr, body = s.do(t, http.MethodGet, "/api/transactions?from=2026-03-14", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["transactions"], 1)

	// Delete twice
	rr, _ = s.do(t, http.MethodDelete, "/api/transactions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr, body = s.do(t, http.MethodDelete, "/api/transactions/"+id, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "already_deleted", body["code"])

	rr, body = s.do(t, http.MethodGet, "/api/transactions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["transactions"], 0)

	rr, body = s.do(t, http.MethodGet, "/api/transactions?deleted=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["transactions"], 1)
}

func TestTransactions_NotFoundAndBadQuery(t *testing.T) {
	s := newTestServer(t)

	rr, body := s.do(t, http.MethodGet, "/api/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", body["code"])

	rr, _ = s.do(t, http.MethodPost, "/api/transactions/missing/verify", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = s.do(t, http.MethodGet, "/api/transactions?from=14-03-2026", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = s.do(t, http.MethodGet, "/api/transactions?from=2026-03-14&to=2026-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTransactions_BodyKeyTooLong(t *testing.T) {
	s := newTestServer(t)
	long := strings.Repeat("k", 129)

	rr, body := s.do(t, http.MethodPost, "/api/transactions",
		`{"gross_weight_kg": 1, "rate_per_kg": 1, "idempotency_key": "`+long+`"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "idempotency_key", get(t, body, "details", "field"))
	assert.Equal(t, "max", get(t, body, "details", "constraint"))

	// Embedded compute fields are bounded too
	rr, body = s.do(t, http.MethodPost, "/api/transactions",
		`{"gross_weight_kg": "1e40", "rate_per_kg": 1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "gross_weight_kg", get(t, body, "details", "field"))
	assert.Equal(t, "too_large", get(t, body, "details", "constraint"))
}

// =============================================================================
// REPORTS AND SETTINGS
// =============================================================================

func TestDailyReport(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"gross_weight_kg": 100, "rate_per_kg": 50, "deduction_method": "A"}`,
		`{"gross_weight_kg": 100, "rate_per_kg": 50, "deduction_method": "B"}`,
	} {
		rr, _ := s.do(t, http.MethodPost, "/api/transactions", body)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr, body := s.do(t, http.MethodGet, "/api/reports/daily?date=2026-03-14", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "2026-03-14", get(t, body, "summary", "day"))
	assert.Equal(t, float64(2), get(t, body, "summary", "totals", "count"))
	assert.Equal(t, "9310", get(t, body, "summary", "totals", "final_amount"))
	assert.Equal(t, float64(1), get(t, body, "summary", "by_method", "B", "count"))
	assert.Equal(t, "৳9,310.00", get(t, body, "display", "totals", "final_amount"))

	rr, body = s.do(t, http.MethodGet, "/api/reports/daily?date=2026-03-15", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(0), get(t, body, "summary", "totals", "count"))

	rr, _ = s.do(t, http.MethodGet, "/api/reports/daily?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSettings_DriveDefaults(t *testing.T) {
	// GIVEN: A market that uses Method B, 4% deduction and Bengali display
	// WHEN: Computing without method or percentages
	// THEN: The market defaults are applied

	s := newTestServer(t)

	rr, body := s.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "A", body["default_method"])

	rr, _ = s.do(t, http.MethodPut, "/api/settings",
		`{"market_name": "Karwan Bazar", "default_method": "B", "deduction_percent": "4", "locale": "bn-BD"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr, body = s.do(t, http.MethodPost, "/api/calculations/compute", `{"gross_weight_kg": 100, "rate_per_kg": 50}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "B", get(t, body, "result", "deduction_method"))
	assert.Equal(t, "4", get(t, body, "result", "deduction_percent"))
	assert.Equal(t, "96", get(t, body, "result", "net_weight_kg"))
	assert.Equal(t, "৳৪,৭০৪.০০", get(t, body, "display", "final_amount"))

	// Per-request override still wins
	rr, body = s.do(t, http.MethodPost, "/api/calculations/compute?numerals=western",
		`{"gross_weight_kg": 100, "rate_per_kg": 50, "deduction_method": "A"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "A", get(t, body, "result", "deduction_method"))
	assert.Equal(t, "৳4,704.00", get(t, body, "display", "final_amount"))

	rr, body = s.do(t, http.MethodPut, "/api/settings", `{"commission_percent": 250}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "invalid_settings", body["code"])
	rr, body = s.do(t, http.MethodPut, "/api/settings", `{"commission_percent": "1e-100000000"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "invalid_settings", body["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rr, body := s.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])

	s.do(t, http.MethodPost, "/api/calculations/compute", `{"gross_weight_kg": 1, "rate_per_kg": 1, "deduction_method": "A"}`)

	rr, _ = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `test_computations_total{method="A",outcome="ok"} 1`)
	assert.Contains(t, rr.Body.String(), "test_http_requests_total")
}
