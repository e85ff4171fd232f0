package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"annotator/internal/cache"
	"annotator/internal/config"
	"annotator/internal/questdb"
)

// Store is the adapter the engines run against; questdb.Store implements it.
type Store interface {
	ListTables(ctx context.Context) ([]string, error)
	TimeRange(ctx context.Context, table string) (start, end time.Time, ok bool, err error)
	SampleMinMax(ctx context.Context, table string, start, end time.Time, intervalUS int64) ([]questdb.Bucket, error)
	RawSamples(ctx context.Context, table string, start, end time.Time, limit int) ([]int16, error)
}

// Service is the single query surface over every collection.
type Service struct {
	Store  Store
	Cache  cache.Store
	Config config.QueryConfig
	// CacheTTL bounds how long a waveform stays cached.
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewService(store Store, c cache.Store, cfg config.QueryConfig, cacheTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{Store: store, Cache: c, Config: cfg, CacheTTL: cacheTTL, Logger: logger}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Config.Timeout > 0 {
		return context.WithTimeout(ctx, s.Config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) tableExists(ctx context.Context, table string) (bool, error) {
	tables, err := s.Store.ListTables(ctx)
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
