package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/domain/credit"
)

const jobTimeout = 5 * time.Minute

type expirer interface {
	ExpireAllStale(ctx context.Context) (int64, error)
}

type reconciler interface {
	Run(ctx context.Context) (credit.ReconcileReport, error)
}

type taskPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type schedules struct {
	expiry    string
	reconcile string
	retention string
}

type worker struct {
	ledger     expirer
	reconciler reconciler
	tasks      taskPruner
	retention  time.Duration
	now        func() time.Time
}

func (w *worker) register(c *cron.Cron, s schedules) error {
	jobs := []struct {
		name     string
		schedule string
		fn       func(ctx context.Context)
	}{
		{"expire_stale_credits", s.expiry, w.expireStale},
		{"reconcile_refunds", s.reconcile, w.reconcile},
		{"prune_background_tasks", s.retention, w.pruneTasks},
	}
	for _, job := range jobs {
		fn := job.fn
		if _, err := c.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			fn(ctx)
		}); err != nil {
			return fmt.Errorf("%s: %w", job.name, err)
		}
	}
	return nil
}

func (w *worker) expireStale(ctx context.Context) {
	n, err := w.ledger.ExpireAllStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[CRON] Credit expiry sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("[CRON] Expired stale credit records")
	}
}

func (w *worker) reconcile(ctx context.Context) {
	report, err := w.reconciler.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[CRON] Refund reconciliation failed")
		return
	}
	if report != (credit.ReconcileReport{}) {
		log.Info().
			Int("reconciled", report.Reconciled).
			Int("failed", report.Failed).
			Int("gave_up", report.GaveUp).
			Int("leaked", report.Leaked).
			Msg("[CRON] Refund reconciliation finished")
	}
}

func (w *worker) pruneTasks(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	n, err := w.tasks.DeleteFinishedBefore(ctx, now().Add(-w.retention))
	if err != nil {
		log.Error().Err(err).Msg("[CRON] Background task pruning failed")
		return
	}
	log.Info().Int64("deleted", n).Msg("[CRON] Pruned background tasks")
}
