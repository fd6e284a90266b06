package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/pkg/lock"
	"github.com/techpack/techpack-api/internal/pkg/metrics"
)

// errAlreadyRefunded short-circuits a refund transaction without error.
var errAlreadyRefunded = errors.New("already refunded")

// Ledger is the only entry point that mutates credit balances.
type Ledger struct {
	store   Store
	locker  *lock.Locker
	pending PendingQueue
	now     func() time.Time
}

// NewLedger creates a ledger. locker and pending may be nil.
func NewLedger(store Store, locker *lock.Locker, pending PendingQueue) *Ledger {
	return &Ledger{store: store, locker: locker, pending: pending, now: time.Now}
}

// ReserveCredits takes amount credits from the user's active records and
// returns a reservation id. Either the whole amount is reserved or nothing
// changes and an *InsufficientError is returned.
func (l *Ledger) ReserveCredits(ctx context.Context, userID uuid.UUID, amount int, meta ReserveMeta) (*ReserveResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var result *ReserveResult
	reserve := func(ctx context.Context) error {
		var err error
		result, err = l.reserve(ctx, userID, amount, meta)
		return err
	}

	err := l.locker.WithLock(ctx, "credits:reserve:"+userID.String(), lock.Options{Expiry: 10 * time.Second}, reserve)
	if errors.Is(err, lock.ErrNotAcquired) {
		// Row locks still serialize reservations for this user.
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Reserving without distributed lock")
		err = reserve(ctx)
	}

	switch {
	case err == nil:
		metrics.CreditReservations.WithLabelValues("ok").Inc()
		log.Info().
			Str("user_id", userID.String()).
			Str("reservation_id", result.ReservationID.String()).
			Str("operation", meta.Operation).
			Int("amount", amount).
			Int("remaining", result.Remaining).
			Msg("Credits reserved")
		return result, nil
	case errors.Is(err, ErrInsufficientCredits):
		metrics.CreditReservations.WithLabelValues("insufficient").Inc()
		return nil, err
	default:
		metrics.CreditReservations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reserve credits: %w", err)
	}
}

func (l *Ledger) reserve(ctx context.Context, userID uuid.UUID, amount int, meta ReserveMeta) (*ReserveResult, error) {
	var result *ReserveResult
	err := l.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.ExpireStale(ctx, userID); err != nil {
			return err
		}
		records, err := tx.LockActiveRecords(ctx, userID)
		if err != nil {
			return err
		}

		reservationID := uuid.New()
		items, have := planDebit(reservationID, records, amount)
		if items == nil {
			return &InsufficientError{Need: amount, Have: have}
		}
		for _, item := range items {
			if err := tx.Debit(ctx, item.CreditID, item.Amount); err != nil {
				return err
			}
		}

		now := l.now()
		res := &Reservation{
			ID:        reservationID,
			UserID:    userID,
			Amount:    amount,
			Status:    ReservationReserved,
			Operation: meta.Operation,
			ProductID: uuid.NullUUID{UUID: meta.ProductID, Valid: meta.ProductID != uuid.Nil},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertReservation(ctx, res, items); err != nil {
			return err
		}

		result = &ReserveResult{ReservationID: reservationID, Amount: amount, Remaining: have - amount}
		return nil
	})
	return result, err
}

// planDebit takes credits from records in the given order until amount is
// covered. It returns nil items and the total available when the records
// cannot cover amount.
func planDebit(reservationID uuid.UUID, records []*Record, amount int) ([]ReservationItem, int) {
	have := 0
	for _, r := range records {
		have += r.Credits
	}
	if have < amount {
		return nil, have
	}

	var items []ReservationItem
	left := amount
	for _, r := range records {
		if left == 0 {
			break
		}
		take := min(r.Credits, left)
		if take == 0 {
			continue
		}
		items = append(items, ReservationItem{
			ReservationID: reservationID,
			CreditID:      r.ID,
			Seq:           len(items),
			Amount:        take,
		})
		left -= take
	}
	return items, have
}

// RefundReservedCredits returns exactly amount credits for a reservation.
// Repeated calls for a refunded reservation are no-ops. When the refund
// cannot be applied the reservation is queued for the reconciler and an
// error wrapping ErrRefundPending is returned.
func (l *Ledger) RefundReservedCredits(ctx context.Context, userID uuid.UUID, amount int, reservationID uuid.UUID, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := l.refund(ctx, userID, amount, reservationID, reason)
	switch {
	case err == nil:
		metrics.CreditRefunds.WithLabelValues("ok").Inc()
		log.Info().
			Str("user_id", userID.String()).
			Str("reservation_id", reservationID.String()).
			Int("amount", amount).
			Str("reason", reason).
			Msg("Credits refunded")
		return nil
	case errors.Is(err, errAlreadyRefunded):
		metrics.CreditRefunds.WithLabelValues("noop").Inc()
		log.Info().Str("reservation_id", reservationID.String()).Msg("Reservation already refunded")
		return nil
	case errors.Is(err, ErrReservationNotFound), errors.Is(err, ErrAmountMismatch):
		metrics.CreditRefunds.WithLabelValues("error").Inc()
		return err
	}

	metrics.CreditRefunds.WithLabelValues("pending").Inc()
	log.Error().
		Err(err).
		Str("user_id", userID.String()).
		Str("reservation_id", reservationID.String()).
		Int("amount", amount).
		Str("reason", reason).
		Msg("Refund failed, queued for reconciliation")
	l.queuePending(ctx, reservationID, reason)
	return fmt.Errorf("%w: %v", ErrRefundPending, err)
}

func (l *Ledger) refund(ctx context.Context, userID uuid.UUID, amount int, reservationID uuid.UUID, reason string) error {
	return l.store.InTx(ctx, func(tx Tx) error {
		res, items, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.UserID != userID {
			return ErrReservationNotFound
		}
		if res.Status == ReservationRefunded {
			return errAlreadyRefunded
		}
		if res.Amount != amount {
			return fmt.Errorf("%w: reserved %d, refund %d", ErrAmountMismatch, res.Amount, amount)
		}

		left := amount
		for i := len(items) - 1; i >= 0 && left > 0; i-- {
			give := min(items[i].Amount, left)
			ok, err := tx.CreditActive(ctx, items[i].CreditID, give)
			if err != nil {
				return err
			}
			if ok {
				left -= give
			}
		}

		if left > 0 {
			now := l.now()
			if err := tx.InsertRecord(ctx, &Record{
				ID:         uuid.New(),
				UserID:     userID,
				Credits:    left,
				Status:     RecordActive,
				PlanType:   PlanOneTime,
				Membership: MembershipRefund,
				CreatedAt:  now,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
		}

		return tx.SetReservationStatus(ctx, reservationID, ReservationRefunded, reason)
	})
}

func (l *Ledger) queuePending(ctx context.Context, reservationID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := l.store.TransitionReservation(ctx, reservationID, ReservationReserved, ReservationRefundPending, reason); err != nil {
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to mark refund pending")
	}
	if l.pending == nil {
		return
	}
	if err := l.pending.Push(ctx, reservationID); err != nil {
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to enqueue pending refund")
	}
}

// RetryRefund re-applies the refund of a queued reservation. It returns the
// number of attempts made so far.
func (l *Ledger) RetryRefund(ctx context.Context, reservationID uuid.UUID) (int, error) {
	res, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return 0, err
	}

	reason := "reconciled refund"
	if res.Reason.Valid {
		reason = res.Reason.String
	}

	err = l.refund(ctx, res.UserID, res.Amount, res.ID, reason)
	if err == nil || errors.Is(err, errAlreadyRefunded) {
		metrics.CreditRefunds.WithLabelValues("ok").Inc()
		log.Info().
			Str("user_id", res.UserID.String()).
			Str("reservation_id", res.ID.String()).
			Int("amount", res.Amount).
			Str("reason", reason).
			Msg("Pending refund reconciled")
		return res.RefundAttempts, nil
	}

	attempts, incErr := l.store.IncrementRefundAttempts(ctx, res.ID)
	if incErr != nil {
		log.Warn().Err(incErr).Str("reservation_id", res.ID.String()).Msg("Failed to count refund attempt")
		attempts = res.RefundAttempts + 1
	}
	return attempts, err
}

// MarkCommitted records that the reserved credits were spent. The balance
// is already final, so failures are only logged.
func (l *Ledger) MarkCommitted(ctx context.Context, reservationID uuid.UUID) {
	ok, err := l.store.TransitionReservation(ctx, reservationID, ReservationReserved, ReservationCommitted, "")
	if err != nil {
		log.Warn().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to mark reservation committed")
		return
	}
	if !ok {
		log.Warn().Str("reservation_id", reservationID.String()).Msg("Reservation not in reserved state")
	}
}

// GetBalance runs the auto-expiry sweep for the user and returns the sum of
// active records.
func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	if _, err := l.ExpireStale(ctx, userID); err != nil {
		return 0, err
	}
	return l.store.SumActive(ctx, userID)
}

// GetBalanceWithRecords is GetBalance plus every record of the user.
func (l *Ledger) GetBalanceWithRecords(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := l.store.ListRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*Record{}
	}
	return &Balance{Balance: balance, Records: records}, nil
}

// ExpireStale flips the user's stale records to expired.
func (l *Ledger) ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := l.store.ExpireStale(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CreditsExpired.Add(float64(n))
		log.Debug().Str("user_id", userID.String()).Int64("expired", n).Msg("Expired stale credit records")
	}
	return n, nil
}

// ExpireAllStale is the global sweep run by the worker. A sweep already
// running on another instance makes this a no-op.
func (l *Ledger) ExpireAllStale(ctx context.Context) (int64, error) {
	var n int64
	err := l.locker.WithLock(ctx, "credits:expiry-sweep", lock.Options{Expiry: 2 * time.Minute, Tries: 1}, func(ctx context.Context) error {
		var err error
		n, err = l.store.ExpireAllStale(ctx)
		return err
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Debug().Msg("Expiry sweep already running elsewhere")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	metrics.CreditsExpired.Add(float64(n))
	return n, nil
}

// Grant inserts a new active credit record.
func (l *Ledger) Grant(ctx context.Context, rec *Record) error {
	if rec.Credits <= 0 {
		return ErrInvalidAmount
	}
	now := l.now()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = RecordActive
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := l.store.InsertRecord(ctx, rec); err != nil {
		return err
	}
	log.Info().
		Str("user_id", rec.UserID.String()).
		Str("plan_type", string(rec.PlanType)).
		Str("membership", rec.Membership).
		Int("credits", rec.Credits).
		Msg("Credits granted")
	return nil
}

// ChangeSubscriptionPlan updates the active subscription record to a new
// membership and credit allowance.
func (l *Ledger) ChangeSubscriptionPlan(ctx context.Context, userID uuid.UUID, subscriptionID, membership string, credits int) error {
	if credits < 0 {
		return ErrInvalidAmount
	}
	return l.store.UpdateSubscription(ctx, userID, subscriptionID, membership, credits)
}

// ActiveSubscription returns the user's active record for subscriptionID,
// or ErrRecordNotFound when the subscription is not theirs.
func (l *Ledger) ActiveSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (*Record, error) {
	return l.store.GetActiveSubscription(ctx, userID, subscriptionID)
}

// ListReservations exposes reservations in a given state for the reconciler.
func (l *Ledger) ListReservations(ctx context.Context, status ReservationStatus, before time.Time, limit int) ([]*Reservation, error) {
	return l.store.ListReservations(ctx, status, before, limit)
}
