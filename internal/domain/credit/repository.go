package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/techpack/techpack-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

// Tx is the set of ledger operations that must share one transaction.
type Tx interface {
	ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error)
	// LockActiveRecords returns active records with credits left, in debit
	// order, locked until the transaction ends.
	LockActiveRecords(ctx context.Context, userID uuid.UUID) ([]*Record, error)
	Debit(ctx context.Context, recordID uuid.UUID, amount int) error
	// CreditActive adds amount to a record that is still active. It reports
	// false when the record is no longer active.
	CreditActive(ctx context.Context, recordID uuid.UUID, amount int) (bool, error)
	InsertRecord(ctx context.Context, rec *Record) error
	InsertReservation(ctx context.Context, res *Reservation, items []ReservationItem) error
	LockReservation(ctx context.Context, id uuid.UUID) (*Reservation, []ReservationItem, error)
	SetReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, reason string) error
}

// Store persists credit records and reservations.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error)
	ExpireAllStale(ctx context.Context) (int64, error)
	SumActive(ctx context.Context, userID uuid.UUID) (int, error)
	ListRecords(ctx context.Context, userID uuid.UUID) ([]*Record, error)
	InsertRecord(ctx context.Context, rec *Record) error
	UpdateSubscription(ctx context.Context, userID uuid.UUID, subscriptionID, membership string, credits int) error
	GetActiveSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (*Record, error)

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// TransitionReservation moves a reservation from one status to another.
	// It reports false when the reservation was not in from.
	TransitionReservation(ctx context.Context, id uuid.UUID, from, to ReservationStatus, reason string) (bool, error)
	IncrementRefundAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ListReservations(ctx context.Context, status ReservationStatus, before time.Time, limit int) ([]*Reservation, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const staleCondition = `
	status = 'active'
	AND ((plan_type = 'one_time' AND credits = 0) OR (expires_at IS NOT NULL AND expires_at <= NOW()))
`

func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (r *Repository) ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error) {
	return expireStale(ctx, r.db, userID)
}

func (r *Repository) ExpireAllStale(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE user_credits SET status = 'expired', updated_at = NOW() WHERE`+staleCondition)
	if err != nil {
		return 0, fmt.Errorf("expire stale credits: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) SumActive(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum int
	err := r.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(credits), 0) FROM user_credits
		WHERE user_id = $1 AND status = 'active'
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("sum active credits: %w", err)
	}
	return sum, nil
}

func (r *Repository) ListRecords(ctx context.Context, userID uuid.UUID) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var records []*Record
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM user_credits
		WHERE user_id = $1
		ORDER BY status, expires_at NULLS LAST, created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credit records: %w", err)
	}
	return records, nil
}

func (r *Repository) InsertRecord(ctx context.Context, rec *Record) error {
	return insertRecord(ctx, r.db, rec)
}

func (r *Repository) UpdateSubscription(ctx context.Context, userID uuid.UUID, subscriptionID, membership string, credits int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_credits
		SET membership = $3, credits = $4, updated_at = NOW()
		WHERE user_id = $1 AND subscription_id = $2
			AND plan_type = 'subscription' AND status = 'active'
	`, userID, subscriptionID, membership, credits)
	if err != nil {
		return fmt.Errorf("update subscription credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *Repository) GetActiveSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (*Record, error) {
	var rec Record
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM user_credits
		WHERE user_id = $1 AND subscription_id = $2
			AND plan_type = 'subscription' AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, subscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription record: %w", err)
	}
	return &rec, nil
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var res Reservation
	err := r.db.GetContext(ctx, &res, `SELECT * FROM credit_reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &res, nil
}

func (r *Repository) TransitionReservation(ctx context.Context, id uuid.UUID, from, to ReservationStatus, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credit_reservations
		SET status = $3, reason = COALESCE(NULLIF($4::text, ''), reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, reason)
	if err != nil {
		return false, fmt.Errorf("transition reservation: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) IncrementRefundAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.GetContext(ctx, &attempts, `
		UPDATE credit_reservations
		SET refund_attempts = refund_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING refund_attempts
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrReservationNotFound
	}
	return attempts, err
}

func (r *Repository) ListReservations(ctx context.Context, status ReservationStatus, before time.Time, limit int) ([]*Reservation, error) {
	var out []*Reservation
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM credit_reservations
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

// pgTx implements Tx on a live transaction.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error) {
	return expireStale(ctx, t.tx, userID)
}

func (t *pgTx) LockActiveRecords(ctx context.Context, userID uuid.UUID) ([]*Record, error) {
	var records []*Record
	err := t.tx.SelectContext(ctx, &records, `
		SELECT * FROM user_credits
		WHERE user_id = $1 AND status = 'active' AND credits > 0
		ORDER BY expires_at NULLS LAST, created_at, id
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("lock active credits: %w", err)
	}
	return records, nil
}

func (t *pgTx) Debit(ctx context.Context, recordID uuid.UUID, amount int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_credits
		SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2
	`, recordID, amount)
	if err != nil {
		return fmt.Errorf("debit credit record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

func (t *pgTx) CreditActive(ctx context.Context, recordID uuid.UUID, amount int) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_credits
		SET credits = credits + $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
			AND (expires_at IS NULL OR expires_at > NOW())
	`, recordID, amount)
	if err != nil {
		return false, fmt.Errorf("credit record: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *pgTx) InsertRecord(ctx context.Context, rec *Record) error {
	return insertRecord(ctx, t.tx, rec)
}

func (t *pgTx) InsertReservation(ctx context.Context, res *Reservation, items []ReservationItem) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO credit_reservations (id, user_id, amount, status, operation, product_id, reason, refund_attempts, created_at, updated_at)
		VALUES (:id, :user_id, :amount, :status, :operation, :product_id, :reason, :refund_attempts, :created_at, :updated_at)
	`, res)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO credit_reservation_items (reservation_id, credit_id, seq, amount)
		VALUES (:reservation_id, :credit_id, :seq, :amount)
	`, items)
	if err != nil {
		return fmt.Errorf("insert reservation items: %w", err)
	}
	return nil
}

func (t *pgTx) LockReservation(ctx context.Context, id uuid.UUID) (*Reservation, []ReservationItem, error) {
	var res Reservation
	err := t.tx.GetContext(ctx, &res, `SELECT * FROM credit_reservations WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock reservation: %w", err)
	}

	var items []ReservationItem
	err = t.tx.SelectContext(ctx, &items, `
		SELECT * FROM credit_reservation_items
		WHERE reservation_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load reservation items: %w", err)
	}
	return &res, items, nil
}

func (t *pgTx) SetReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, reason string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE credit_reservations
		SET status = $2, reason = COALESCE(NULLIF($3::text, ''), reason), updated_at = NOW()
		WHERE id = $1
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("set reservation status: %w", err)
	}
	return nil
}

func expireStale(ctx context.Context, db sqlx.ExecerContext, userID uuid.UUID) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE user_credits SET status = 'expired', updated_at = NOW()
		WHERE user_id = $1 AND`+staleCondition, userID)
	if err != nil {
		return 0, fmt.Errorf("expire stale credits: %w", err)
	}
	return res.RowsAffected()
}

func insertRecord(ctx context.Context, db sqlx.ExtContext, rec *Record) error {
	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO user_credits (id, user_id, credits, status, plan_type, membership, subscription_id, created_at, updated_at, expires_at)
		VALUES (:id, :user_id, :credits, :status, :plan_type, :membership, :subscription_id, :created_at, :updated_at, :expires_at)
	`, rec)
	if err != nil {
		return fmt.Errorf("insert credit record: %w", err)
	}
	return nil
}
