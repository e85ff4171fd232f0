package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"annotator/internal/audio"
)

// ErrInterrupted marks a batch that stopped before every file was attempted.
var ErrInterrupted = errors.New("ingestion interrupted")

// FileReport is the outcome of ingesting one recording.
type FileReport struct {
	File       string    `json:"file"`
	Start      time.Time `json:"start"`
	SampleRate int       `json:"sample_rate,omitempty"`
	WriteReport
	Error string `json:"error,omitempty"`
}

// Failed reports whether nothing usable reached the store for this file.
func (r FileReport) Failed() bool {
	if r.Error != "" {
		return true
	}
	return r.Chunks > 0 && r.FailedChunks == r.Chunks
}

// JobReport aggregates a batch of files into one collection.
type JobReport struct {
	Collection     string        `json:"collection"`
	Table          string        `json:"table"`
	FilesTotal     int           `json:"files_total"`
	FilesSucceeded int           `json:"files_succeeded"`
	FilesFailed    int           `json:"files_failed"`
	PointsExpected int64         `json:"points_expected"`
	PointsWritten  int64         `json:"points_written"`
	Mismatch       bool          `json:"mismatch"`
	Duration       time.Duration `json:"duration"`
	PointsPerSec   float64       `json:"points_per_sec"`
	Files          []FileReport  `json:"files"`
}

type provisioner interface {
	Ensure(ctx context.Context, collection string) (string, error)
}

// Pipeline wires provisioning, decoding, timestamping and the orchestrator.
type Pipeline struct {
	Provisioner  provisioner
	Orchestrator *Orchestrator
	// Decode defaults to audio.ReadWAV.
	Decode func(path string) (audio.Clip, error)
	Logger *zap.Logger
}

// IngestFiles provisions the collection once and ingests every file in
// order. A bad file is recorded and skipped; only provisioning failure
// aborts the batch. onFile, when set, sees each file report as it lands.
func (p *Pipeline) IngestFiles(ctx context.Context, collection string, paths []string, onFile func(FileReport)) (JobReport, error) {
	started := time.Now()
	report := JobReport{Collection: collection, FilesTotal: len(paths), Files: make([]FileReport, 0, len(paths))}

	table, err := p.Provisioner.Ensure(ctx, collection)
	if err != nil {
		return report, fmt.Errorf("provision %s: %w", collection, err)
	}
	report.Table = table

	var interrupted error
	for _, path := range paths {
		var fr FileReport
		if interrupted == nil {
			interrupted = ctx.Err()
		}
		if interrupted != nil {
			fr = FileReport{File: filepath.Base(path), Error: "interrupted: " + interrupted.Error()}
		} else {
			fr = p.IngestFile(ctx, table, path)
		}
		report.Files = append(report.Files, fr)
		report.PointsExpected += fr.Expected
		report.PointsWritten += fr.Written
		if fr.Failed() {
			report.FilesFailed++
		} else {
			report.FilesSucceeded++
		}
		if onFile != nil {
			onFile(fr)
		}
	}

	report.Mismatch = report.PointsWritten != report.PointsExpected
	report.Duration = time.Since(started)
	if secs := report.Duration.Seconds(); secs > 0 {
		report.PointsPerSec = float64(report.PointsWritten) / secs
	}
	if p.Logger != nil {
		p.Logger.Info("ingestion finished",
			zap.String("collection", collection),
			zap.String("table", table),
			zap.Int("files_total", report.FilesTotal),
			zap.Int("files_succeeded", report.FilesSucceeded),
			zap.Int("files_failed", report.FilesFailed),
			zap.Int64("points_expected", report.PointsExpected),
			zap.Int64("points_written", report.PointsWritten),
			zap.Bool("mismatch", report.Mismatch),
			zap.Duration("elapsed", report.Duration),
			zap.Bool("interrupted", interrupted != nil),
		)
	}
	if interrupted != nil {
		return report, fmt.Errorf("%w: %w", ErrInterrupted, interrupted)
	}
	return report, nil
}

// IngestFile writes one recording into an already provisioned table. The
// file tag is the base name, which also carries the acquisition start.
func (p *Pipeline) IngestFile(ctx context.Context, table, path string) FileReport {
	name := filepath.Base(path)
	fr := FileReport{File: name}

	start, ok := audio.ParseFilenameTimestamp(name)
	if !ok {
		return p.fail(fr, audio.ErrUnparsableFilename)
	}
	fr.Start = start

	decode := p.Decode
	if decode == nil {
		decode = audio.ReadWAV
	}
	clip, err := decode(path)
	if err != nil {
		return p.fail(fr, err)
	}
	fr.SampleRate = clip.SampleRate

	timestamps := audio.GenerateTimestamps(start, clip.SampleRate, len(clip.Samples))
	wr, err := p.Orchestrator.Write(ctx, table, name, clip.Samples, timestamps)
	if err != nil {
		return p.fail(fr, err)
	}
	fr.WriteReport = wr
	return fr
}

func (p *Pipeline) fail(fr FileReport, err error) FileReport {
	fr.Error = err.Error()
	if p.Logger != nil {
		p.Logger.Warn("file skipped", zap.String("file", fr.File), zap.Error(err))
	}
	return fr
}
