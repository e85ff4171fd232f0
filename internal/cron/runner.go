// Package cronrunner schedules housekeeping such as sweeping ingestion jobs
// left running by a crashed process.
package cronrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		// A slow sweep must not overlap with the next tick.
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers a named job. Panics inside job are recovered and logged.
func (r *Runner) Add(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", p))
			}
		}()
		started := time.Now()
		if err := job(r.baseCtx); err != nil {
			r.logger.Warn("cron job failed", zap.String("job", name), zap.Error(err))
			return
		}
		r.logger.Debug("cron job done", zap.String("job", name), zap.Duration("took", time.Since(started)))
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return id, nil
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
