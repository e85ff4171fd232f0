package repository

import (
	"context"
	"time"

	"annotator/internal/models"
)

// EventRepository persists annotation events. Get returns (nil, nil) when the
// id is unknown; Update and Delete report whether a row matched.
type EventRepository interface {
	InsertEvent(ctx context.Context, item *models.Event) error
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, params ListEventsParams) ([]models.Event, error)
	CountEvents(ctx context.Context, params ListEventsParams) (int64, error)
	UpdateEventStatus(ctx context.Context, id string, status string) (bool, error)
	DeleteEvent(ctx context.Context, id string) (bool, error)
}

// IngestJobRepository persists background ingestion jobs.
type IngestJobRepository interface {
	InsertIngestJob(ctx context.Context, item *models.IngestJob) error
	GetIngestJobByID(ctx context.Context, id string) (*models.IngestJob, error)
	ListIngestJobs(ctx context.Context, params ListIngestJobsParams) ([]models.IngestJob, error)
	CountIngestJobs(ctx context.Context, params ListIngestJobsParams) (int64, error)
	UpdateIngestJob(ctx context.Context, id string, updates map[string]any) error
	// AbandonStaleIngestJobs moves running jobs whose last progress write
	// is older than cutoff to abandoned and returns how many changed.
	// Queued jobs are left alone: they may still be waiting on a busy worker.
	AbandonStaleIngestJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

type Repository interface {
	EventRepository
	IngestJobRepository
}

type ListEventsParams struct {
	Limit   int
	Offset  int
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListIngestJobsParams struct {
	Limit      int
	Offset     int
	Status     *string
	Collection *string
	OrderBy    string
	Asc        *bool
}
