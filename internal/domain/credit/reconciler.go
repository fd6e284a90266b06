package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/pkg/lock"
)

// ReconcilerConfig bounds one reconciliation pass.
type ReconcilerConfig struct {
	// MaxAttempts after which a pending refund is left for manual review.
	MaxAttempts int
	// PendingMinAge skips refunds that only just failed.
	PendingMinAge time.Duration
	// LeakThreshold is the age after which a reserved hold is reported.
	LeakThreshold time.Duration
	BatchSize     int
}

// DefaultReconcilerConfig returns the production settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		MaxAttempts:   10,
		PendingMinAge: 30 * time.Second,
		LeakThreshold: time.Hour,
		BatchSize:     100,
	}
}

// ReconcileReport summarises one pass.
type ReconcileReport struct {
	Reconciled int
	Failed     int
	GaveUp     int
	Leaked     int
}

// Reconciler retries failed refunds and reports reservations that were
// never committed nor refunded.
type Reconciler struct {
	ledger  *Ledger
	pending PendingQueue
	locker  *lock.Locker
	cfg     ReconcilerConfig
	now     func() time.Time
}

func NewReconciler(ledger *Ledger, pending PendingQueue, locker *lock.Locker, cfg ReconcilerConfig) *Reconciler {
	def := DefaultReconcilerConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.LeakThreshold <= 0 {
		cfg.LeakThreshold = def.LeakThreshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Reconciler{ledger: ledger, pending: pending, locker: locker, cfg: cfg, now: time.Now}
}

// Run performs one pass. Only one instance runs at a time; a pass that
// cannot take the lock returns an empty report.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := r.locker.WithLock(ctx, "credits:reconcile", lock.Options{Expiry: 5 * time.Minute, Tries: 1}, func(ctx context.Context) error {
		var err error
		report, err = r.run(ctx)
		return err
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Debug().Msg("Reconciliation already running elsewhere")
		return report, nil
	}
	return report, err
}

func (r *Reconciler) run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	seen := make(map[uuid.UUID]bool)

	if r.pending != nil {
		for i := 0; i < r.cfg.BatchSize; i++ {
			id, ok, err := r.pending.Pop(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read pending refund queue")
				break
			}
			if !ok {
				break
			}
			if id == uuid.Nil || seen[id] {
				continue
			}
			seen[id] = true
			r.retry(ctx, id, &report)
		}
	}

	pending, err := r.ledger.ListReservations(ctx, ReservationRefundPending, r.now().Add(-r.cfg.PendingMinAge), r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, res := range pending {
		if seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		if res.RefundAttempts >= r.cfg.MaxAttempts {
			report.GaveUp++
			continue
		}
		r.retry(ctx, res.ID, &report)
	}

	leaked, err := r.ledger.ListReservations(ctx, ReservationReserved, r.now().Add(-r.cfg.LeakThreshold), r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, res := range leaked {
		log.Warn().
			Str("reservation_id", res.ID.String()).
			Str("user_id", res.UserID.String()).
			Str("operation", res.Operation).
			Int("amount", res.Amount).
			Time("created_at", res.CreatedAt).
			Msg("Reservation neither committed nor refunded")
	}
	report.Leaked = len(leaked)

	if report != (ReconcileReport{}) {
		log.Info().
			Int("reconciled", report.Reconciled).
			Int("failed", report.Failed).
			Int("gave_up", report.GaveUp).
			Int("leaked", report.Leaked).
			Msg("Credit reconciliation finished")
	}
	return report, nil
}

func (r *Reconciler) retry(ctx context.Context, id uuid.UUID, report *ReconcileReport) {
	attempts, err := r.ledger.RetryRefund(ctx, id)
	if err == nil {
		report.Reconciled++
		return
	}
	if attempts >= r.cfg.MaxAttempts {
		report.GaveUp++
		log.Error().Err(err).Str("reservation_id", id.String()).Int("attempts", attempts).Msg("Giving up on pending refund")
		return
	}
	report.Failed++
	log.Warn().Err(err).Str("reservation_id", id.String()).Int("attempts", attempts).Msg("Pending refund retry failed")
}
