package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"annotator/internal/questdb"
)

// ChunkTask is one contiguous slice of a file's series bound for one table.
type ChunkTask struct {
	Index      int
	Table      string
	File       string
	Samples    []int16
	Timestamps []int64
}

// ChunkResult is what a worker reports back for one task.
type ChunkResult struct {
	Index    int
	WorkerID int
	Expected int64
	Written  int64
	Err      error
}

type worker struct {
	id     int
	dial   questdb.Dialer
	logger *zap.Logger
}

// run writes the whole chunk on a private connection. Any failure counts the
// chunk as zero points written; there is no retry.
func (w worker) run(ctx context.Context, task ChunkTask) ChunkResult {
	res := ChunkResult{Index: task.Index, WorkerID: w.id, Expected: int64(len(task.Samples))}
	if err := w.write(ctx, task); err != nil {
		res.Err = err
		if w.logger != nil {
			w.logger.Warn("chunk write failed",
				zap.Int("worker_id", w.id),
				zap.String("table", task.Table),
				zap.String("file", task.File),
				zap.Int("chunk", task.Index),
				zap.Int("points", len(task.Samples)),
				zap.Error(err),
			)
		}
		return res
	}
	res.Written = res.Expected
	return res
}

func (w worker) write(ctx context.Context, task ChunkTask) (err error) {
	if len(task.Samples) != len(task.Timestamps) {
		return fmt.Errorf("chunk %d: %d samples but %d timestamps", task.Index, len(task.Samples), len(task.Timestamps))
	}
	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	for i, amp := range task.Samples {
		if err := conn.WriteRow(ctx, task.Table, task.File, amp, task.Timestamps[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	if err := conn.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
