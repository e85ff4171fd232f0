package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"annotator/internal/config"
	"annotator/internal/models"
	"annotator/internal/repository"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidStatus = errors.New("invalid event status")
	ErrInvalidEvent  = errors.New("invalid event")
)

const (
	exportPageSize     = 500
	archiveStampLayout = "20060102_150405"
)

type EventInput struct {
	StartTimestamp    time.Time
	EndTimestamp      time.Time
	VehicleType       string
	VehicleIdentifier *string
	Direction         *string
	AnnotatorNotes    *string
	Status            string
}

type EventService struct {
	Repo   repository.EventRepository
	Config config.EventsConfig
	Logger *zap.Logger
}

func (s *EventService) Create(ctx context.Context, in EventInput) (*models.Event, error) {
	vt := strings.TrimSpace(in.VehicleType)
	if vt == "" {
		return nil, fmt.Errorf("%w: vehicle_type is required", ErrInvalidEvent)
	}
	if in.StartTimestamp.IsZero() || in.EndTimestamp.IsZero() {
		return nil, fmt.Errorf("%w: start_timestamp and end_timestamp are required", ErrInvalidEvent)
	}
	if in.EndTimestamp.Before(in.StartTimestamp) {
		return nil, fmt.Errorf("%w: end_timestamp before start_timestamp", ErrInvalidEvent)
	}
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = models.EventStatusManual
	}
	if !models.ValidEventStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	item := &models.Event{
		ID:                uuid.NewString(),
		StartTimestamp:    in.StartTimestamp.UTC(),
		EndTimestamp:      in.EndTimestamp.UTC(),
		VehicleType:       vt,
		VehicleIdentifier: trimmedPtr(in.VehicleIdentifier),
		Direction:         trimmedPtr(in.Direction),
		AnnotatorNotes:    in.AnnotatorNotes,
		Status:            status,
	}
	if err := s.Repo.InsertEvent(ctx, item); err != nil {
		return nil, err
	}
	s.archive(item)
	return item, nil
}

// archive keeps a JSON copy of each created event next to the dataset.
// Failure only logs; the database row is authoritative.
func (s *EventService) archive(item *models.Event) {
	dir := strings.TrimSpace(s.Config.ArchiveDir)
	if dir == "" {
		return
	}
	err := func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		raw, err := json.MarshalIndent(item, "", "  ")
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format(archiveStampLayout), item.ID)
		return os.WriteFile(filepath.Join(dir, name), raw, 0o644)
	}()
	if err != nil && s.Logger != nil {
		s.Logger.Warn("event archive failed", zap.String("event_id", item.ID), zap.Error(err))
	}
}

func (s *EventService) List(ctx context.Context, params repository.ListEventsParams) ([]models.Event, int64, error) {
	if params.Status != nil && *params.Status != "" && !models.ValidEventStatus(*params.Status) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, *params.Status)
	}
	items, err := s.Repo.ListEvents(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountEvents(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *EventService) Get(ctx context.Context, id string) (*models.Event, error) {
	item, err := s.Repo.GetEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrEventNotFound
	}
	return item, nil
}

func (s *EventService) UpdateStatus(ctx context.Context, id, status string) (*models.Event, error) {
	status = strings.TrimSpace(status)
	if !models.ValidEventStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	found, err := s.Repo.UpdateEventStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrEventNotFound
	}
	return s.Get(ctx, id)
}

func (s *EventService) Delete(ctx context.Context, id string) error {
	found, err := s.Repo.DeleteEvent(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrEventNotFound
	}
	return nil
}

// Export loads every event matching status, oldest first.
func (s *EventService) Export(ctx context.Context, status *string) ([]models.Event, error) {
	if status != nil && *status != "" && !models.ValidEventStatus(*status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
	}
	asc := true
	out := make([]models.Event, 0)
	for offset := 0; ; offset += exportPageSize {
		page, err := s.Repo.ListEvents(ctx, repository.ListEventsParams{
			Limit:   exportPageSize,
			Offset:  offset,
			Status:  status,
			OrderBy: "start_timestamp",
			Asc:     &asc,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < exportPageSize {
			return out, nil
		}
	}
}

type eventCSVRow struct {
	ID                string `csv:"id"`
	StartTimestamp    string `csv:"start_timestamp"`
	EndTimestamp      string `csv:"end_timestamp"`
	VehicleType       string `csv:"vehicle_type"`
	VehicleIdentifier string `csv:"vehicle_identifier"`
	Direction         string `csv:"direction"`
	AnnotatorNotes    string `csv:"annotator_notes"`
	Status            string `csv:"status"`
}

// WriteEventsCSV writes one row per event with millisecond UTC instants.
func WriteEventsCSV(w io.Writer, items []models.Event) error {
	rows := make([]*eventCSVRow, 0, len(items))
	for _, e := range items {
		rows = append(rows, &eventCSVRow{
			ID:                e.ID,
			StartTimestamp:    e.StartTimestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			EndTimestamp:      e.EndTimestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			VehicleType:       e.VehicleType,
			VehicleIdentifier: deref(e.VehicleIdentifier),
			Direction:         deref(e.Direction),
			AnnotatorNotes:    deref(e.AnnotatorNotes),
			Status:            e.Status,
		})
	}
	return gocsv.Marshal(rows, w)
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
