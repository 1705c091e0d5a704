// Package memory provides in-memory ledger and settings stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fishledger/settlement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	records     map[string]ledger.Record
	order       []string // record IDs sorted by RecordedAt, then ID
	idempotency map[string]bool
	settings    []byte
}

func New() *Memory {
	return &Memory{
		records:     make(map[string]ledger.Record),
		idempotency: make(map[string]bool),
	}
}

// Save adds a record.
func (m *Memory) Save(_ context.Context, rec ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.IdempotencyKey != "" && m.idempotency[rec.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}

	// Binary search for insertion point
	i := sort.Search(len(m.order), func(i int) bool {
		return m.less(rec, m.records[m.order[i]])
	})
	m.order = append(m.order, "")
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = rec.ID

	m.records[rec.ID] = rec.WithEchoedInput()
	if rec.IdempotencyKey != "" {
		m.idempotency[rec.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) less(a, b ledger.Record) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.ID < b.ID
}

func (m *Memory) Get(_ context.Context, id string) (ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return ledger.Record{}, ledger.ErrRecordNotFound
	}
	return rec, nil
}

// ListRange returns records with RecordedAt in [from, to).
func (m *Memory) ListRange(_ context.Context, from, to time.Time, includeDeleted bool) ([]ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Record
	for _, id := range m.order {
		rec := m.records[id]
		if rec.RecordedAt.Before(from) {
			continue
		}
		if !rec.RecordedAt.Before(to) {
			break
		}
		if rec.Deleted() && !includeDeleted {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

func (m *Memory) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	if rec.Deleted() {
		return ledger.ErrAlreadyDeleted
	}
	rec.DeletedAt = &at
	m.records[id] = rec
	return nil
}

// Purge drops records soft deleted before the cutoff and frees their
// idempotency keys.
func (m *Memory) Purge(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	purged := 0
	for _, id := range m.order {
		rec := m.records[id]
		if rec.Deleted() && rec.DeletedAt.Before(before) {
			delete(m.records, id)
			delete(m.idempotency, rec.IdempotencyKey)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return purged, nil
}

func (m *Memory) ExistsKey(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) LoadSettings(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	return append([]byte(nil), m.settings...), nil
}

func (m *Memory) SaveSettings(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = append([]byte(nil), data...)
	return nil
}
