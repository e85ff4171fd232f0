package query

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"annotator/internal/questdb"
)

// TimeRange is the first and last timestamp of a collection.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{FormatInstant(r.Start), FormatInstant(r.End)})
}

// ListCollections returns every provisioned collection, sorted.
func (s *Service) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tables, err := s.Store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]string(nil), tables...)
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// GetTimeRange returns nil when the collection is absent or holds no rows.
func (s *Service) GetTimeRange(ctx context.Context, collection string) (*TimeRange, error) {
	table, err := questdb.NormalizeTableName(collection)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start, end, ok, err := s.Store.TimeRange(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}
