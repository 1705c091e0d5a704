/*
Package report regenerates settlement results in bulk and summarizes a day.

PURPOSE:
  Exports never trust stored results. Every record's result is recomputed
  from its stored input with the same engine that produced it live, so a
  report, a comparison and a live computation of the same input agree to
  the last digit.

BATCH SEMANTICS:
  - Order of the output matches the order of the input records
  - An invalid stored input becomes an item error; the batch continues
  - Workers are bounded (errgroup.SetLimit)

SEE ALSO:
  - ledger/ledger.go: Record and Verify
  - retention/job.go: Removes purged records from future reports
*/
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fishledger/settlement-engine/ledger"
	"github.com/fishledger/settlement-engine/obs"
	"github.com/fishledger/settlement-engine/settlement"
)

// =============================================================================
// BATCH
// =============================================================================

// Item is one regenerated record.
type Item struct {
	RecordID string            `json:"record_id"`
	Party    string            `json:"party,omitempty"`
	Item     string            `json:"item,omitempty"`
	Result   settlement.Result `json:"result"`

	// Err is set when the stored input failed validation; Result is zero.
	Err error `json:"-"`

	// Stale is set when the stored result differs from the regenerated one.
	Stale bool `json:"stale,omitempty"`
}

// Batch is the outcome of regenerating many records.
type Batch struct {
	Items  []Item `json:"items"`
	Failed int    `json:"failed"`
	Stale  int    `json:"stale"`
}

// ItemError describes one failed record for JSON output.
type ItemError struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// Errors lists the failed items.
func (b Batch) Errors() []ItemError {
	var out []ItemError
	for _, it := range b.Items {
		if it.Err != nil {
			out = append(out, ItemError{RecordID: it.RecordID, Error: it.Err.Error()})
		}
	}
	return out
}

// Regenerate recomputes every record's result from its stored input.
// workers < 1 means 1. The only error returned is ctx cancellation.
func Regenerate(ctx context.Context, records []ledger.Record, workers int) (Batch, error) {
	if workers < 1 {
		workers = 1
	}

	items := make([]Item, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, rec := range records {
		if gctx.Err() != nil {
			break
		}
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = regenerate(rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	b := Batch{Items: items}
	for _, it := range items {
		if it.Err != nil {
			b.Failed++
		}
		if it.Stale {
			b.Stale++
		}
	}
	return b, nil
}

func regenerate(rec ledger.Record) Item {
	it := Item{RecordID: rec.ID, Party: rec.Party, Item: rec.Item}
	res, err := settlement.Compute(rec.Input)
	if err != nil {
		it.Err = fmt.Errorf("record %s: %w", rec.ID, err)
		return it
	}
	it.Result = res
	it.Stale = !rec.Result.Equal(res)
	return it
}

// =============================================================================
// DAILY SUMMARY
// =============================================================================

// Totals sums the money and weight fields of a set of results.
type Totals struct {
	Count            int             `json:"count"`
	GrossWeightKg    decimal.Decimal `json:"gross_weight_kg"`
	NetWeightKg      decimal.Decimal `json:"net_weight_kg"`
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	DeductionAmount  decimal.Decimal `json:"deduction_amount"`
	BaseAmount       decimal.Decimal `json:"base_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	FinalAmount      decimal.Decimal `json:"final_amount"`
}

func (t *Totals) add(r settlement.Result) {
	t.Count++
	t.GrossWeightKg = t.GrossWeightKg.Add(r.GrossWeightKg)
	t.NetWeightKg = t.NetWeightKg.Add(r.NetWeightKg)
	t.GrossAmount = t.GrossAmount.Add(r.GrossAmount)
	t.DeductionAmount = t.DeductionAmount.Add(r.DeductionAmount)
	t.BaseAmount = t.BaseAmount.Add(r.BaseAmount)
	t.CommissionAmount = t.CommissionAmount.Add(r.CommissionAmount)
	t.FinalAmount = t.FinalAmount.Add(r.FinalAmount)
}

// DailySummary is the export for one market day.
type DailySummary struct {
	Day      string                       `json:"day"` // YYYY-MM-DD
	Totals   Totals                       `json:"totals"`
	ByMethod map[settlement.Method]Totals `json:"by_method"`
	Failed   []ItemError                  `json:"failed,omitempty"`
	Stale    int                          `json:"stale"`
}

// Summarize totals the successful items of a batch.
func Summarize(day time.Time, b Batch) DailySummary {
	s := DailySummary{
		Day:      day.Format(time.DateOnly),
		ByMethod: make(map[settlement.Method]Totals, len(settlement.Methods)),
		Failed:   b.Errors(),
		Stale:    b.Stale,
	}
	for _, m := range settlement.Methods {
		s.ByMethod[m] = Totals{}
	}
	for _, it := range b.Items {
		if it.Err != nil {
			continue
		}
		s.Totals.add(it.Result)
		t := s.ByMethod[it.Result.Method]
		t.add(it.Result)
		s.ByMethod[it.Result.Method] = t
	}
	return s
}

// =============================================================================
// SERVICE
// =============================================================================

// Service builds reports from a ledger store.
type Service struct {
	Store   ledger.Store
	Workers int
	Logger  zerolog.Logger
	Metrics *obs.DomainMetrics
}

// Daily summarizes the live records of one UTC market day. Only the
// calendar date of day is used.
func (s *Service) Daily(ctx context.Context, day time.Time) (DailySummary, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	records, err := s.Store.ListRange(ctx, from, to, false)
	if err != nil {
		return DailySummary{}, fmt.Errorf("load records: %w", err)
	}

	start := time.Now()
	batch, err := Regenerate(ctx, records, s.Workers)
	if err != nil {
		return DailySummary{}, err
	}
	s.Metrics.ObserveReport(len(records)-batch.Failed, batch.Failed)

	evt := s.Logger.Info()
	if batch.Failed > 0 || batch.Stale > 0 {
		evt = s.Logger.Warn()
	}
	evt.Str("day", from.Format(time.DateOnly)).
		Int("records", len(records)).
		Int("failed", batch.Failed).
		Int("stale", batch.Stale).
		Dur("took", time.Since(start)).
		Msg("daily report regenerated")

	return Summarize(from, batch), nil
}
