package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"annotator/internal/config"
	"annotator/internal/ingest"
	"annotator/internal/models"
	"annotator/internal/questdb"
	"annotator/internal/repository"
)

var (
	ErrJobNotFound         = errors.New("ingest job not found")
	ErrNoFiles             = errors.New("at least one file is required")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

// CacheInvalidator drops cached reads of a collection after new data lands.
type CacheInvalidator interface {
	InvalidateCollection(ctx context.Context, collection string) error
}

type jobRunner interface {
	IngestFiles(ctx context.Context, collection string, paths []string, onFile func(ingest.FileReport)) (ingest.JobReport, error)
}

// IngestJobService admits ingestion requests onto the queue and runs them
// in the background, persisting each job's progress and final report.
type IngestJobService struct {
	Repo        repository.IngestJobRepository
	Queue       ingest.Queue
	Pipeline    jobRunner
	Invalidator CacheInvalidator
	Config      config.IngestConfig
	Logger      *zap.Logger
}

type StartIngestionRequest struct {
	// JobID is optional; uploads pick it first to name their directory.
	JobID      string
	Collection string
	Files      []string
}

func NewJobID() string {
	return uuid.NewString()
}

// StartIngestion validates and enqueues a job and returns without waiting
// for any file to be processed.
func (s *IngestJobService) StartIngestion(ctx context.Context, req StartIngestionRequest) (*models.IngestJob, error) {
	if s == nil || s.Repo == nil || s.Queue == nil {
		return nil, fmt.Errorf("ingest service not configured")
	}
	table, err := questdb.NormalizeTableName(req.Collection)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !s.extensionAllowed(f) {
			return nil, fmt.Errorf("%w: %s", ErrExtensionNotAllowed, filepath.Base(f))
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	rawFiles, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.JobID)
	if id == "" {
		id = NewJobID()
	}
	job := &models.IngestJob{
		ID:         id,
		Collection: strings.TrimSpace(req.Collection),
		Table:      table,
		Files:      datatypes.JSON(rawFiles),
		Status:     models.JobStatusQueued,
		FilesTotal: len(files),
	}
	if err := s.Repo.InsertIngestJob(ctx, job); err != nil {
		return nil, err
	}
	msg := ingest.JobMessage{JobID: job.ID, Collection: job.Collection, Files: files}
	if err := s.Queue.Publish(ctx, msg); err != nil {
		s.finish(job.ID, models.JobStatusFailed, map[string]any{"error": "enqueue: " + err.Error()})
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	if s.Logger != nil {
		s.Logger.Info("ingest job queued",
			zap.String("job_id", job.ID),
			zap.String("collection", job.Collection),
			zap.String("table", table),
			zap.Int("files", len(files)),
		)
	}
	return job, nil
}

func (s *IngestJobService) extensionAllowed(path string) bool {
	if len(s.Config.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range s.Config.AllowedExtensions {
		if strings.ToLower(strings.TrimSpace(allowed)) == ext {
			return true
		}
	}
	return false
}

// Run consumes the queue until ctx is done, running up to
// Config.MaxConcurrentJobs jobs at once.
func (s *IngestJobService) Run(ctx context.Context) error {
	if s == nil || s.Queue == nil || s.Pipeline == nil {
		return nil
	}
	limit := s.Config.MaxConcurrentJobs
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	err := s.Queue.Consume(ctx, func(ctx context.Context, msg ingest.JobMessage) {
		g.Go(func() error {
			s.process(ctx, msg)
			return nil
		})
	})
	_ = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ingest.ErrQueueClosed) {
		return nil
	}
	return err
}

func (s *IngestJobService) process(ctx context.Context, msg ingest.JobMessage) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("job_id", msg.JobID), zap.String("collection", msg.Collection))

	job, err := s.Repo.GetIngestJobByID(ctx, msg.JobID)
	if err != nil {
		log.Warn("load ingest job failed", zap.Error(err))
		return
	}
	if job == nil {
		log.Warn("ingest job record missing, running untracked")
	} else if models.IngestJobTerminal(job.Status) {
		log.Info("ingest job already terminal, skipping", zap.String("status", job.Status))
		return
	}

	started := time.Now().UTC()
	s.update(msg.JobID, map[string]any{"status": models.JobStatusRunning, "started_at": started})
	log.Info("ingest job started", zap.Int("files", len(msg.Files)))

	var progress struct {
		ok, failed       int
		expected, writes int64
	}
	onFile := func(fr ingest.FileReport) {
		if fr.Failed() {
			progress.failed++
		} else {
			progress.ok++
		}
		progress.expected += fr.Expected
		progress.writes += fr.Written
		s.update(msg.JobID, map[string]any{
			"files_succeeded": progress.ok,
			"files_failed":    progress.failed,
			"points_expected": progress.expected,
			"points_written":  progress.writes,
		})
	}

	report, err := s.Pipeline.IngestFiles(ctx, msg.Collection, msg.Files, onFile)
	if err != nil && report.Table == "" {
		log.Error("ingest job failed", zap.Error(err))
		s.finish(msg.JobID, models.JobStatusFailed, map[string]any{"error": err.Error()})
		return
	}

	updates := map[string]any{
		"files_total":     report.FilesTotal,
		"files_succeeded": report.FilesSucceeded,
		"files_failed":    report.FilesFailed,
		"points_expected": report.PointsExpected,
		"points_written":  report.PointsWritten,
		"mismatch":        report.Mismatch,
	}
	if raw, err := json.Marshal(report); err == nil {
		updates["report"] = datatypes.JSON(raw)
	}
	status := models.JobStatusCompleted
	if err != nil {
		// Interrupted part way: keep the counts of what did land.
		status = models.JobStatusFailed
		updates["error"] = err.Error()
	}
	s.finish(msg.JobID, status, updates)

	if s.Invalidator != nil && report.PointsWritten > 0 {
		if err := s.Invalidator.InvalidateCollection(context.WithoutCancel(ctx), msg.Collection); err != nil {
			log.Warn("waveform cache invalidation failed", zap.Error(err))
		}
	}
	fields := []zap.Field{
		zap.Int("files_succeeded", report.FilesSucceeded),
		zap.Int("files_failed", report.FilesFailed),
		zap.Int64("points_expected", report.PointsExpected),
		zap.Int64("points_written", report.PointsWritten),
		zap.Float64("points_per_sec", report.PointsPerSec),
		zap.Duration("elapsed", report.Duration),
	}
	switch {
	case err != nil:
		log.Warn("ingest job interrupted", append(fields, zap.Error(err))...)
	case report.Mismatch:
		log.Warn("ingest job completed with missing points", fields...)
	default:
		log.Info("ingest job completed", fields...)
	}
}

// update writes job progress. It must outlive request and shutdown
// cancellation, so it never uses the caller's context.
func (s *IngestJobService) update(id string, updates map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Repo.UpdateIngestJob(ctx, id, updates); err != nil && s.Logger != nil {
		s.Logger.Warn("persist ingest job failed", zap.String("job_id", id), zap.Error(err))
	}
}

func (s *IngestJobService) finish(id, status string, updates map[string]any) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = status
	updates["finished_at"] = time.Now().UTC()
	s.update(id, updates)
}

func (s *IngestJobService) GetJob(ctx context.Context, id string) (*models.IngestJob, error) {
	job, err := s.Repo.GetIngestJobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *IngestJobService) ListJobs(ctx context.Context, params repository.ListIngestJobsParams) ([]models.IngestJob, int64, error) {
	items, err := s.Repo.ListIngestJobs(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountIngestJobs(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SweepStale abandons jobs that have been queued or running for longer
// than Config.JobStaleAfter.
func (s *IngestJobService) SweepStale(ctx context.Context) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	after := s.Config.JobStaleAfter
	if after <= 0 {
		after = 6 * time.Hour
	}
	n, err := s.Repo.AbandonStaleIngestJobs(ctx, time.Now().UTC().Add(-after))
	if err != nil {
		return 0, err
	}
	if n > 0 && s.Logger != nil {
		s.Logger.Warn("abandoned stale ingest jobs", zap.Int64("count", n), zap.Duration("older_than", after))
	}
	return n, nil
}
