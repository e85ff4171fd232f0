package ingest

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"annotator/internal/questdb"
)

// WriteReport summarizes one file's fan-out.
type WriteReport struct {
	Expected     int64         `json:"points_expected"`
	Written      int64         `json:"points_written"`
	Chunks       int           `json:"chunks"`
	FailedChunks int           `json:"failed_chunks"`
	Mismatch     bool          `json:"mismatch"`
	Duration     time.Duration `json:"duration"`
}

// Orchestrator splits a series into chunks and writes them concurrently,
// each worker on its own connection.
type Orchestrator struct {
	Dial      questdb.Dialer
	ChunkSize int
	Workers   int
	Logger    *zap.Logger
}

// DefaultWorkers leaves one CPU for the host process.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

func (o *Orchestrator) workerCount(chunks int) int {
	n := o.Workers
	if n <= 0 {
		n = DefaultWorkers()
	}
	if n > chunks {
		n = chunks
	}
	return n
}

// Write sends every (sample, timestamp) pair to table tagged with file. A
// shortfall is reported through Mismatch, never as an error; already written
// chunks are not rolled back.
func (o *Orchestrator) Write(ctx context.Context, table, file string, samples []int16, timestamps []int64) (WriteReport, error) {
	started := time.Now()
	if len(samples) != len(timestamps) {
		return WriteReport{}, fmt.Errorf("series length mismatch: %d samples, %d timestamps", len(samples), len(timestamps))
	}
	if o.Dial == nil {
		return WriteReport{}, fmt.Errorf("no row writer configured")
	}
	ranges := SplitChunks(len(samples), o.ChunkSize)
	report := WriteReport{Expected: int64(len(samples)), Chunks: len(ranges)}
	if len(ranges) == 0 {
		report.Duration = time.Since(started)
		return report, nil
	}

	tasks := make(chan ChunkTask)
	results := make([]ChunkResult, len(ranges))
	workers := o.workerCount(len(ranges))

	var g errgroup.Group
	g.Go(func() error {
		defer close(tasks)
		for _, r := range ranges {
			task := ChunkTask{
				Index:      r.Index,
				Table:      table,
				File:       file,
				Samples:    samples[r.Start:r.End],
				Timestamps: timestamps[r.Start:r.End],
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for id := 1; id <= workers; id++ {
		w := worker{id: id, dial: o.Dial, logger: o.Logger}
		g.Go(func() error {
			for task := range tasks {
				results[task.Index] = w.run(ctx, task)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res.Err != nil || res.Expected == 0 {
			// Expected==0 means the chunk was never dispatched.
			report.FailedChunks++
			if res.Expected == 0 && o.Logger != nil {
				o.Logger.Warn("chunk not dispatched", zap.String("file", file), zap.Int("chunk", i))
			}
			continue
		}
		report.Written += res.Written
	}
	report.Mismatch = report.Written != report.Expected
	report.Duration = time.Since(started)

	if o.Logger != nil {
		fields := []zap.Field{
			zap.String("table", table),
			zap.String("file", file),
			zap.Int64("expected", report.Expected),
			zap.Int64("written", report.Written),
			zap.Int("chunks", report.Chunks),
			zap.Int("workers", workers),
			zap.Duration("elapsed", report.Duration),
		}
		if report.Mismatch {
			o.Logger.Warn("ingest point count mismatch", append(fields, zap.Int("failed_chunks", report.FailedChunks))...)
		} else {
			o.Logger.Info("file written", fields...)
		}
	}
	return report, nil
}
