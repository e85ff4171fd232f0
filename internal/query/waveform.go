package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"annotator/internal/questdb"
)

const DefaultPoints = 2000

// WaveformPoint is the min/max amplitude of one bucket.
type WaveformPoint struct {
	Time string `json:"time"`
	Min  int16  `json:"min"`
	Max  int16  `json:"max"`
}

// BucketInterval returns the bucket width in microseconds for a window of
// duration split into at most points buckets: max(1, ceil(us/points)).
func BucketInterval(duration time.Duration, points int) int64 {
	if points <= 0 {
		points = DefaultPoints
	}
	us := duration.Microseconds()
	p := int64(points)
	interval := (us + p - 1) / p
	if interval < 1 {
		interval = 1
	}
	return interval
}

func (s *Service) normalizePoints(points int) int {
	if points <= 0 {
		points = s.Config.DefaultPoints
	}
	if points <= 0 {
		points = DefaultPoints
	}
	if s.Config.MaxPoints > 0 && points > s.Config.MaxPoints {
		points = s.Config.MaxPoints
	}
	return points
}

// GetWaveform summarizes [start, end] into at most points+1 min/max buckets.
// A non-positive window or an unknown collection yields an empty slice.
func (s *Service) GetWaveform(ctx context.Context, collection string, start, end time.Time, points int) ([]WaveformPoint, error) {
	// An empty range is empty for any collection name.
	if !end.After(start) {
		return []WaveformPoint{}, nil
	}
	table, err := questdb.NormalizeTableName(collection)
	if err != nil {
		return nil, err
	}
	points = s.normalizePoints(points)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key, cacheable := s.waveformKey(ctx, table, start, end, points)
	if cacheable {
		if cached, ok := s.cachedWaveform(ctx, key); ok {
			return cached, nil
		}
	}

	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []WaveformPoint{}, nil
	}

	interval := BucketInterval(end.Sub(start), points)
	buckets, err := s.Store.SampleMinMax(ctx, table, start.UTC(), end.UTC(), interval)
	if err != nil {
		return nil, err
	}
	out := make([]WaveformPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, WaveformPoint{Time: FormatInstant(b.Time), Min: b.Min, Max: b.Max})
	}
	if cacheable {
		s.storeWaveform(ctx, key, out)
	}
	return out, nil
}

// InvalidateCollection bumps the cache generation of a collection so
// waveforms computed before new data landed are no longer served.
func (s *Service) InvalidateCollection(ctx context.Context, collection string) error {
	if s.Cache == nil {
		return nil
	}
	table, err := questdb.NormalizeTableName(collection)
	if err != nil {
		return err
	}
	_, err = s.Cache.Incr(ctx, generationKey(table))
	return err
}

func generationKey(table string) string {
	return "waveform:gen:" + table
}

func (s *Service) waveformKey(ctx context.Context, table string, start, end time.Time, points int) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	gen := "0"
	raw, found, err := s.Cache.Get(ctx, generationKey(table))
	if err != nil {
		s.warnCache("cache generation read failed", table, err)
		return "", false
	}
	if found {
		if _, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			gen = string(raw)
		}
	}
	return fmt.Sprintf("waveform:%s:%s:%d:%d:%d", table, gen, start.UnixNano(), end.UnixNano(), points), true
}

func (s *Service) cachedWaveform(ctx context.Context, key string) ([]WaveformPoint, bool) {
	raw, found, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.warnCache("cache read failed", key, err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var out []WaveformPoint
	if err := json.Unmarshal(raw, &out); err != nil {
		s.warnCache("cache entry unreadable", key, err)
		return nil, false
	}
	if out == nil {
		out = []WaveformPoint{}
	}
	return out, true
}

func (s *Service) storeWaveform(ctx context.Context, key string, points []WaveformPoint) {
	raw, err := json.Marshal(points)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, key, raw, s.CacheTTL); err != nil {
		s.warnCache("cache write failed", key, err)
	}
}

func (s *Service) warnCache(msg, key string, err error) {
	if s.Logger != nil {
		s.Logger.Warn(msg, zap.String("key", key), zap.Error(err))
	}
}
