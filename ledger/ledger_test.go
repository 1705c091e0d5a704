package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fishledger/settlement-engine/ledger"
	"github.com/fishledger/settlement-engine/settlement"
	"github.com/fishledger/settlement-engine/store/memory"
)

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

// newLedger returns a ledger whose clock advances one minute per call and
// whose IDs are sequential.
func newLedger(store ledger.Store) *ledger.Ledger {
	l := ledger.New(store)
	now := day.Add(6 * time.Hour)
	l.Now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	n := 0
	l.NewID = func() string {
		n++
		return fmt.Sprintf("rec-%03d", n)
	}
	return l
}

func sale(gross, rate string, m settlement.Method) settlement.Input {
	return settlement.NewInput(decimal.RequireFromString(gross), decimal.RequireFromString(rate), m)
}

func TestRecord_ComputesAndStores(t *testing.T) {
	// GIVEN: The golden sale
	// WHEN: Recording it
	// THEN: The stored result is the engine's result

	ctx := context.Background()
	l := newLedger(memory.New())

	rec, err := l.Record(ctx, ledger.RecordRequest{
		IdempotencyKey: "tablet-7:0001",
		Party:          "Rahim Fisheries",
		Item:           "Hilsa",
		Input:          sale("100", "50", settlement.MethodA),
	})
	require.NoError(t, err)

	assert.Equal(t, "rec-001", rec.ID)
	assert.False(t, rec.Deleted())
	assert.True(t, rec.Result.FinalAmount.Equal(decimal.NewFromInt(4655)))

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hilsa", got.Item)
	assert.True(t, got.Result.Equal(rec.Result))
}

func TestRecord_InvalidInputStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	l := newLedger(store)

	_, err := l.Record(ctx, ledger.RecordRequest{
		IdempotencyKey: "k1",
		Input:          sale("0", "50", settlement.MethodA),
	})
	require.Error(t, err)

	ve, ok := settlement.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, settlement.FieldGrossWeight, ve.Field)
	assert.True(t, ledger.IsClientError(err))

	exists, err := store.ExistsKey(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists, "idempotency key must not be consumed")

	recs, err := l.List(ctx, day, day.AddDate(0, 0, 1), true)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecord_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	l := newLedger(memory.New())

	req := ledger.RecordRequest{IdempotencyKey: "tablet-7:0002", Input: sale("10", "300", settlement.MethodB)}
	_, err := l.Record(ctx, req)
	require.NoError(t, err)

	_, err = l.Record(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	assert.True(t, ledger.IsConflict(err))

	// No key means no deduplication
	req.IdempotencyKey = ""
	_, err = l.Record(ctx, req)
	require.NoError(t, err)
	_, err = l.Record(ctx, req)
	require.NoError(t, err)
}

func TestList_OrderAndDeletedFilter(t *testing.T) {
	ctx := context.Background()
	l := newLedger(memory.New())

	var ids []string
	for _, gross := range []string{"10", "20", "30"} {
		rec, err := l.Record(ctx, ledger.RecordRequest{Input: sale(gross, "100", settlement.MethodA)})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	require.NoError(t, l.Delete(ctx, ids[1]))

	live, err := l.List(ctx, day, day.AddDate(0, 0, 1), false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, ids[0], live[0].ID)
	assert.Equal(t, ids[2], live[1].ID)

	all, err := l.List(ctx, day, day.AddDate(0, 0, 1), true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[1].Deleted())

	// Next day is empty
	next, err := l.List(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2), true)
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = l.List(ctx, day.AddDate(0, 0, 1), day, false)
	assert.ErrorIs(t, err, settlement.ErrInvalidInput)
}

func TestDelete_Errors(t *testing.T) {
	ctx := context.Background()
	l := newLedger(memory.New())

	err := l.Delete(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))

	rec, err := l.Record(ctx, ledger.RecordRequest{Input: sale("5", "5", settlement.MethodA)})
	require.NoError(t, err)
	require.NoError(t, l.Delete(ctx, rec.ID))

	err = l.Delete(ctx, rec.ID)
	assert.True(t, errors.Is(err, ledger.ErrAlreadyDeleted))

	// Deleted records stay readable by ID
	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
}

func TestVerify_DetectsTamperedResult(t *testing.T) {
	// GIVEN: A stored record whose final amount was edited outside the ledger
	// WHEN: Verifying it
	// THEN: The edited field is reported and nothing else

	ctx := context.Background()
	store := memory.New()
	l := newLedger(store)

	good, err := l.Record(ctx, ledger.RecordRequest{Input: sale("100", "50", settlement.MethodB)})
	require.NoError(t, err)

	v, err := l.Verify(ctx, good.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Mismatches)

	res, err := settlement.Compute(sale("40", "80", settlement.MethodA))
	require.NoError(t, err)
	res.FinalAmount = res.FinalAmount.Add(decimal.NewFromInt(10))
	require.NoError(t, store.Save(ctx, ledger.Record{
		ID:         "synced-1",
		Input:      sale("40", "80", settlement.MethodA),
		Result:     res,
		RecordedAt: day.Add(time.Hour),
	}))

	v, err = l.Verify(ctx, "synced-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"final_amount"}, v.Mismatches)
	assert.True(t, v.Expected.FinalAmount.Equal(res.FinalAmount.Sub(decimal.NewFromInt(10))))
}

func TestVerifyRecord_InvalidStoredInput(t *testing.T) {
	v := ledger.VerifyRecord(ledger.Record{
		ID:    "bad",
		Input: sale("10", "10", settlement.Method("Z")),
	})
	assert.False(t, v.Valid)
	assert.Contains(t, v.InputError, settlement.FieldMethod)
}

func TestVerify_NotFound(t *testing.T) {
	_, err := newLedger(memory.New()).Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestRecord_WithEchoedInput(t *testing.T) {
	in := sale("100", "50", settlement.MethodB)
	res, err := settlement.Compute(in)
	require.NoError(t, err)

	rec := ledger.Record{Input: in, Result: settlement.Result{FinalAmount: res.FinalAmount}}
	got := rec.WithEchoedInput()

	assert.Equal(t, in, got.Result.Input())
	assert.True(t, got.Result.FinalAmount.Equal(res.FinalAmount))
	assert.True(t, rec.Result.GrossWeightKg.IsZero(), "receiver is not modified")
}
