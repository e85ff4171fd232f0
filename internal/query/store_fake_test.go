package query

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"annotator/internal/questdb"
)

type memRow struct {
	ts   int64
	amp  int16
	file string
}

// memStore is an in-memory collection store. Buckets follow QuestDB's
// SAMPLE BY ... ALIGN TO FIRST OBSERVATION semantics.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]memRow
	calls  map[string]int
	err    error
}

func newMemStore() *memStore {
	return &memStore{tables: map[string][]memRow{}, calls: map[string]int{}}
}

func (m *memStore) create(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = nil
	}
}

func (m *memStore) insert(table string, rows []memRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], rows...)
}

func (m *memStore) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *memStore) ListTables(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListTables"]++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]string, 0, len(m.tables))
	for name := range m.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) TimeRange(_ context.Context, table string) (time.Time, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["TimeRange"]++
	if m.err != nil {
		return time.Time{}, time.Time{}, false, m.err
	}
	rows := m.tables[table]
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	lo, hi := rows[0].ts, rows[0].ts
	for _, r := range rows {
		if r.ts < lo {
			lo = r.ts
		}
		if r.ts > hi {
			hi = r.ts
		}
	}
	return time.Unix(0, lo).UTC(), time.Unix(0, hi).UTC(), true, nil
}

func (m *memStore) inRange(table string, start, end time.Time) []memRow {
	lo, hi := start.UnixNano(), end.UnixNano()
	var out []memRow
	for _, r := range m.tables[table] {
		if r.ts >= lo && r.ts <= hi {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out
}

func (m *memStore) SampleMinMax(_ context.Context, table string, start, end time.Time, intervalUS int64) ([]questdb.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["SampleMinMax"]++
	if m.err != nil {
		return nil, m.err
	}
	rows := m.inRange(table, start, end)
	out := make([]questdb.Bucket, 0)
	if len(rows) == 0 {
		return out, nil
	}
	width := intervalUS * 1000
	first := rows[0].ts
	current := int64(-1)
	for _, r := range rows {
		idx := (r.ts - first) / width
		if idx != current {
			out = append(out, questdb.Bucket{Time: time.Unix(0, first+idx*width).UTC(), Min: r.amp, Max: r.amp})
			current = idx
			continue
		}
		b := &out[len(out)-1]
		if r.amp < b.Min {
			b.Min = r.amp
		}
		if r.amp > b.Max {
			b.Max = r.amp
		}
	}
	return out, nil
}

func (m *memStore) RawSamples(_ context.Context, table string, start, end time.Time, limit int) ([]int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["RawSamples"]++
	if m.err != nil {
		return nil, m.err
	}
	rows := m.inRange(table, start, end)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]int16, len(rows))
	for i, r := range rows {
		out[i] = r.amp
	}
	return out, nil
}

// Dialer returns row writers that only land rows on Flush.
func (m *memStore) Dialer() questdb.Dialer {
	return func(context.Context) (questdb.RowWriter, error) {
		return &memWriter{store: m}, nil
	}
}

type memWriter struct {
	store   *memStore
	pending map[string][]memRow
	closed  bool
}

func (w *memWriter) WriteRow(_ context.Context, table, file string, amplitude int16, tsNanos int64) error {
	if w.closed {
		return errors.New("writer closed")
	}
	if w.pending == nil {
		w.pending = map[string][]memRow{}
	}
	w.pending[table] = append(w.pending[table], memRow{ts: tsNanos, amp: amplitude, file: file})
	return nil
}

func (w *memWriter) Flush(context.Context) error {
	for table, rows := range w.pending {
		w.store.insert(table, rows)
	}
	w.pending = nil
	return nil
}

func (w *memWriter) Close(context.Context) error {
	w.closed = true
	return nil
}

type memProvisioner struct {
	store *memStore
}

func (p memProvisioner) Ensure(_ context.Context, collection string) (string, error) {
	table, err := questdb.NormalizeTableName(collection)
	if err != nil {
		return "", err
	}
	p.store.create(table)
	return table, nil
}
