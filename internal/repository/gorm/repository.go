package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"annotator/internal/models"
	"annotator/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InsertEvent(ctx context.Context, item *models.Event) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Event
	err := s.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.eventsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "start_timestamp")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Event
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.eventsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) eventsQuery(ctx context.Context, params repository.ListEventsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Event{})
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	return query
}

func (s *Store) UpdateEventStatus(ctx context.Context, id string, status string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", strings.TrimSpace(id)).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Delete(&models.Event{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) InsertIngestJob(ctx context.Context, item *models.IngestJob) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetIngestJobByID(ctx context.Context, id string) (*models.IngestJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.IngestJob
	err := s.db.WithContext(ctx).Model(&models.IngestJob{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListIngestJobs(ctx context.Context, params repository.ListIngestJobsParams) ([]models.IngestJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.ingestJobsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.IngestJob
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountIngestJobs(ctx context.Context, params repository.ListIngestJobsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.ingestJobsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ingestJobsQuery(ctx context.Context, params repository.ListIngestJobsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.IngestJob{})
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Collection != nil && *params.Collection != "" {
		query = query.Where("collection = ?", *params.Collection)
	}
	return query
}

func (s *Store) UpdateIngestJob(ctx context.Context, id string, updates map[string]any) error {
	if s == nil || s.db == nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.IngestJob{}).
		Where("id = ?", strings.TrimSpace(id)).
		Updates(updates).
		Error
}

func (s *Store) AbandonStaleIngestJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.IngestJob{}).
		Where("status = ?", models.JobStatusRunning).
		Where("updated_at < ?", cutoff).
		Updates(map[string]any{
			"status":      models.JobStatusAbandoned,
			"error":       "abandoned: no progress since stale cutoff",
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
