package questdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"annotator/internal/config"
)

// Open connects to the QuestDB PostgreSQL wire endpoint (port 8812 by default).
func Open(cfg config.QuestDBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("questdb open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Bucket is one SAMPLE BY row.
type Bucket struct {
	Time time.Time
	Min  int16
	Max  int16
}

// Store runs the read-side SQL against collection tables. Table names passed
// in must already be normalized.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("questdb not configured")
	}
	return s.db.PingContext(ctx)
}

// listTablesSQL pins the column set. SHOW TABLES grew extra columns across
// releases and their order is not part of any contract.
const listTablesSQL = "SELECT table_name FROM tables() ORDER BY table_name"

// ListTables returns every user table, reserved names excluded.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []sql.NullString
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables rows: %w", err)
	}
	return visibleTables(names), nil
}

func visibleTables(names []sql.NullString) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !name.Valid || name.String == "" || isReserved(name.String) {
			continue
		}
		out = append(out, name.String)
	}
	return out
}

// TableExists reports whether table is a visible collection.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

// TimeRange returns the first and last timestamp of table. ok is false when
// the table is absent or empty.
func (s *Store) TimeRange(ctx context.Context, table string) (start, end time.Time, ok bool, err error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil || !exists {
		return time.Time{}, time.Time{}, false, err
	}
	var lo, hi sql.NullTime
	q := fmt.Sprintf("SELECT min(ts), max(ts) FROM %s", quoteIdent(table))
	if err := s.db.QueryRowContext(ctx, q).Scan(&lo, &hi); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, time.Time{}, false, nil
		}
		return time.Time{}, time.Time{}, false, fmt.Errorf("time range %s: %w", table, err)
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return lo.Time.UTC(), hi.Time.UTC(), true, nil
}

// SampleMinMax aggregates [start, end] into buckets of intervalUS microseconds.
// Empty buckets are not returned.
func (s *Store) SampleMinMax(ctx context.Context, table string, start, end time.Time, intervalUS int64) ([]Bucket, error) {
	if intervalUS < 1 {
		intervalUS = 1
	}
	q := fmt.Sprintf(
		"SELECT ts, min(amplitude), max(amplitude) FROM %s WHERE ts BETWEEN $1 AND $2 SAMPLE BY %dU ALIGN TO FIRST OBSERVATION",
		quoteIdent(table), intervalUS,
	)
	rows, err := s.db.QueryContext(ctx, q, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]Bucket, 0)
	for rows.Next() {
		var ts time.Time
		var lo, hi sql.NullInt64
		if err := rows.Scan(&ts, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		if !lo.Valid || !hi.Valid {
			continue
		}
		out = append(out, Bucket{Time: ts.UTC(), Min: int16(lo.Int64), Max: int16(hi.Int64)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sample rows: %w", err)
	}
	return out, nil
}

// RawSamples returns amplitudes in [start, end] ordered by timestamp, at most limit rows.
func (s *Store) RawSamples(ctx context.Context, table string, start, end time.Time, limit int) ([]int16, error) {
	q := fmt.Sprintf("SELECT amplitude FROM %s WHERE ts BETWEEN $1 AND $2 ORDER BY ts", quoteIdent(table))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("raw %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]int16, 0)
	for rows.Next() {
		var v sql.NullInt64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan amplitude: %w", err)
		}
		out = append(out, int16(v.Int64))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("raw rows: %w", err)
	}
	return out, nil
}
