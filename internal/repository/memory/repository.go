// Package memrepository is a process-local repository.Repository used when no
// database DSN is configured and by tests.
package memrepository

import (
	"context"
	"sort"
	"sync"
	"time"

	"annotator/internal/models"
	"annotator/internal/repository"
)

type Store struct {
	mu     sync.RWMutex
	events map[string]models.Event
	jobs   map[string]models.IngestJob
}

func New() *Store {
	return &Store{events: map[string]models.Event{}, jobs: map[string]models.IngestJob{}}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InsertEvent(_ context.Context, item *models.Event) error {
	if item == nil {
		return nil
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.events[item.ID] = *item
	return nil
}

func (s *Store) GetEventByID(_ context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) filterEvents(params repository.ListEventsParams) []models.Event {
	out := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if params.Status != nil && *params.Status != "" && e.Status != *params.Status {
			continue
		}
		out = append(out, e)
	}
	asc := params.Asc != nil && *params.Asc
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if params.OrderBy == "created_at" {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.StartTimestamp.Before(b.StartTimestamp)
		}
		return a.StartTimestamp.After(b.StartTimestamp)
	})
	return out
}

func (s *Store) ListEvents(_ context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.filterEvents(params), params.Limit, params.Offset, 100), nil
}

func (s *Store) CountEvents(_ context.Context, params repository.ListEventsParams) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filterEvents(params))), nil
}

func (s *Store) UpdateEventStatus(_ context.Context, id string, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.events[id]
	if !ok {
		return false, nil
	}
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	s.events[id] = item
	return true, nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return false, nil
	}
	delete(s.events, id)
	return true, nil
}

func (s *Store) InsertIngestJob(_ context.Context, item *models.IngestJob) error {
	if item == nil {
		return nil
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	s.jobs[item.ID] = *item
	return nil
}

func (s *Store) GetIngestJobByID(_ context.Context, id string) (*models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) filterJobs(params repository.ListIngestJobsParams) []models.IngestJob {
	out := make([]models.IngestJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if params.Status != nil && *params.Status != "" && j.Status != *params.Status {
			continue
		}
		if params.Collection != nil && *params.Collection != "" && j.Collection != *params.Collection {
			continue
		}
		out = append(out, j)
	}
	asc := params.Asc != nil && *params.Asc
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListIngestJobs(_ context.Context, params repository.ListIngestJobsParams) ([]models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.filterJobs(params), params.Limit, params.Offset, 50), nil
}

func (s *Store) CountIngestJobs(_ context.Context, params repository.ListIngestJobsParams) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filterJobs(params))), nil
}

// UpdateIngestJob applies the same column names the gorm store accepts.
func (s *Store) UpdateIngestJob(_ context.Context, id string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		applyJobColumn(&job, k, v)
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

const staleJobError = "abandoned: no progress since stale cutoff"

func (s *Store) AbandonStaleIngestJobs(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for id, job := range s.jobs {
		if job.Status != models.JobStatusRunning || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		msg := staleJobError
		job.Status = models.JobStatusAbandoned
		job.Error = &msg
		job.FinishedAt = &now
		job.UpdatedAt = now
		s.jobs[id] = job
		n++
	}
	return n, nil
}

func applyJobColumn(job *models.IngestJob, column string, v any) {
	switch column {
	case "status":
		job.Status, _ = v.(string)
	case "files_total":
		job.FilesTotal = toInt(v)
	case "files_succeeded":
		job.FilesSucceeded = toInt(v)
	case "files_failed":
		job.FilesFailed = toInt(v)
	case "points_expected":
		job.PointsExpected = int64(toInt(v))
	case "points_written":
		job.PointsWritten = int64(toInt(v))
	case "mismatch":
		job.Mismatch, _ = v.(bool)
	case "report":
		switch r := v.(type) {
		case []byte:
			job.Report = r
		default:
			if b, ok := v.(interface{ MarshalJSON() ([]byte, error) }); ok {
				job.Report, _ = b.MarshalJSON()
			}
		}
	case "error":
		if msg, ok := v.(string); ok {
			job.Error = &msg
		}
	case "started_at":
		if t, ok := v.(time.Time); ok {
			job.StartedAt = &t
		}
	case "finished_at":
		if t, ok := v.(time.Time); ok {
			job.FinishedAt = &t
		}
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	}
	return 0
}

func page[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
