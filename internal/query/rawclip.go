package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"annotator/internal/questdb"
)

const (
	DefaultRawRowCap      = 20_000_000
	DefaultRawMaxDuration = 300 * time.Second
)

var ErrClipTooLong = errors.New("raw clip window too long")

// AdmitRawClip is the boundary check run before GetRawClip; the engine
// itself only enforces the row cap.
func AdmitRawClip(start, end time.Time, maxDuration time.Duration) error {
	if maxDuration <= 0 {
		maxDuration = DefaultRawMaxDuration
	}
	if d := end.Sub(start); d > maxDuration {
		return fmt.Errorf("%w: %s exceeds %s", ErrClipTooLong, d, maxDuration)
	}
	return nil
}

// GetRawClip returns every amplitude in [start, end] in timestamp order.
// Rows past the cap are dropped silently; no data is an empty slice.
func (s *Service) GetRawClip(ctx context.Context, collection string, start, end time.Time) ([]int16, error) {
	table, err := questdb.NormalizeTableName(collection)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return []int16{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []int16{}, nil
	}
	limit := s.Config.RawRowCap
	if limit <= 0 {
		limit = DefaultRawRowCap
	}
	samples, err := s.Store.RawSamples(ctx, table, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []int16{}
	}
	return samples, nil
}
