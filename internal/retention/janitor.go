// Package retention deletes finished jobs once they are older than the configured age.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/metrics"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// sweepPageSize is how many jobs one ListJobs page fetches during a sweep.
const sweepPageSize = 100

// finished are the statuses a job can be deleted in. completed_at is only set on these.
var finished = []models.JobStatus{
	models.JobStatusCompleted,
	models.JobStatusCancelled,
	models.JobStatusFailed,
}

// Janitor periodically removes finished jobs whose completed_at is older than MaxAge.
// It never touches PENDING or PROCESSING jobs.
type Janitor struct {
	cfg    config.RetentionConfig
	store  store.JobStore
	logger *slog.Logger
	now    func() time.Time
}

func NewJanitor(cfg config.RetentionConfig, jobs store.JobStore, logger *slog.Logger) *Janitor {
	return &Janitor{
		cfg:    cfg,
		store:  jobs,
		logger: logger.With("component", "retention"),
		now:    time.Now,
	}
}

// Run sweeps on every interval until ctx is done. A zero MaxAge disables the janitor.
func (j *Janitor) Run(ctx context.Context) error {
	if j.cfg.MaxAge <= 0 {
		j.logger.Info("job retention disabled")
		return nil
	}
	interval := j.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep deletes every finished job completed before now - MaxAge and returns how many went.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.cfg.MaxAge)
	deleted := 0
	for _, status := range finished {
		for {
			jobs, _, err := j.store.ListJobs(ctx, store.JobFilter{
				Status:          status,
				CompletedBefore: cutoff,
				OldestFirst:     true,
				Limit:           sweepPageSize,
			})
			if err != nil {
				return deleted, err
			}
			removed := 0
			for _, job := range jobs {
				ok, err := j.store.DeleteJob(ctx, job.ID)
				if err != nil {
					return deleted, err
				}
				if ok {
					removed++
				}
			}
			deleted += removed
			if len(jobs) < sweepPageSize || removed == 0 {
				break
			}
		}
	}

	if deleted > 0 {
		metrics.JobsPurgedTotal.Add(float64(deleted))
		j.logger.Info("purged finished jobs", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
