/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.Store and settings.Store using SQLite. Decimals are
  stored as TEXT so that values round-trip exactly; nothing is ever stored
  as REAL.

INTERFACES IMPLEMENTED:
  ledger.Store:   Settlement records
  settings.Store: Market settings (single JSON row)

KEY TABLES:
  records:  One row per settled sale, input and result columns side by side
  settings: Key/value JSON documents

INDEXES:
  - idx_records_recorded_at: Daily listing and reports (hot path)
  - idx_records_deleted_at:  Retention purge
  - idempotency_key UNIQUE:  Client retry deduplication

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface definition
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fishledger/settlement-engine/ledger"
	"github.com/fishledger/settlement-engine/settlement"
)

// timeLayout is fixed-width so that TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const marketSettingsKey = "market"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Settled sales
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT UNIQUE,
		party TEXT NOT NULL DEFAULT '',
		item TEXT NOT NULL DEFAULT '',

		gross_weight_kg TEXT NOT NULL,
		rate_per_kg TEXT NOT NULL,
		deduction_method TEXT NOT NULL,
		deduction_percent TEXT NOT NULL,
		commission_percent TEXT NOT NULL,

		net_weight_kg TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		deduction_amount TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		final_amount TEXT NOT NULL,

		recorded_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_recorded_at
		ON records(recorded_at, id);
	CREATE INDEX IF NOT EXISTS idx_records_deleted_at
		ON records(deleted_at) WHERE deleted_at IS NOT NULL;

	-- Settings documents
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

const recordColumns = `id, idempotency_key, party, item,
	gross_weight_kg, rate_per_kg, deduction_method, deduction_percent, commission_percent,
	net_weight_kg, gross_amount, deduction_amount, base_amount, commission_amount, final_amount,
	recorded_at, deleted_at`

// Save inserts a record. A reused idempotency key maps to
// ledger.ErrDuplicateIdempotencyKey.
func (s *Store) Save(ctx context.Context, rec ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var deletedAt sql.NullString
	if rec.DeletedAt != nil {
		deletedAt = nullString(formatTime(*rec.DeletedAt))
	}

	in, res := rec.Input, rec.Result
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.IdempotencyKey),
		rec.Party,
		rec.Item,
		in.GrossWeightKg.String(),
		in.RatePerKg.String(),
		string(in.Method),
		in.DeductionPercent.String(),
		in.CommissionPercent.String(),
		res.NetWeightKg.String(),
		res.GrossAmount.String(),
		res.DeductionAmount.String(),
		res.BaseAmount.String(),
		res.CommissionAmount.String(),
		res.FinalAmount.String(),
		formatTime(rec.RecordedAt),
		deletedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, ledger.ErrRecordNotFound
	}
	if err != nil {
		return ledger.Record{}, err
	}
	return rec, nil
}

// ListRange returns records with recorded_at in [from, to).
func (s *Store) ListRange(ctx context.Context, from, to time.Time, includeDeleted bool) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM records
		WHERE recorded_at >= ? AND recorded_at < ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY recorded_at, id`

	rows, err := s.db.QueryContext(ctx, query, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var result []ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deletedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT deleted_at FROM records WHERE id = ?`, id).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if deletedAt.Valid {
		return ledger.ErrAlreadyDeleted
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) ExistsKey(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE idempotency_key = ?`, idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ledger.Record, error) {
	var (
		rec                                    ledger.Record
		idempotencyKey, deletedAt              sql.NullString
		gross, rate, method, deduction, commis string
		net, grossAmt, deductionAmt, base      string
		commissionAmt, final, recordedAt       string
	)
	err := row.Scan(
		&rec.ID, &idempotencyKey, &rec.Party, &rec.Item,
		&gross, &rate, &method, &deduction, &commis,
		&net, &grossAmt, &deductionAmt, &base, &commissionAmt, &final,
		&recordedAt, &deletedAt,
	)
	if err != nil {
		return ledger.Record{}, err
	}
	rec.IdempotencyKey = idempotencyKey.String

	p := decimalParser{}
	rec.Input = settlement.Input{
		GrossWeightKg:     p.parse("gross_weight_kg", gross),
		RatePerKg:         p.parse("rate_per_kg", rate),
		Method:            settlement.Method(method),
		DeductionPercent:  p.parse("deduction_percent", deduction),
		CommissionPercent: p.parse("commission_percent", commis),
	}
	res := settlement.Result{
		NetWeightKg:      p.parse("net_weight_kg", net),
		GrossAmount:      p.parse("gross_amount", grossAmt),
		DeductionAmount:  p.parse("deduction_amount", deductionAmt),
		BaseAmount:       p.parse("base_amount", base),
		CommissionAmount: p.parse("commission_amount", commissionAmt),
		FinalAmount:      p.parse("final_amount", final),
	}
	if p.err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", rec.ID, p.err)
	}
	rec.Result = res
	rec = rec.WithEchoedInput()

	if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return ledger.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		rec.DeletedAt = &t
	}
	return rec, nil
}

// decimalParser keeps the first parse error so a row scans in one pass.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(column, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", column, err)
	}
	return d
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

// LoadSettings returns (nil, nil) when no settings were saved.
func (s *Store) LoadSettings(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_json FROM settings WHERE key = ?`, marketSettingsKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return []byte(value), nil
}

func (s *Store) SaveSettings(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		marketSettingsKey, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
