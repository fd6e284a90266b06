package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/techpack/techpack-api/internal/pkg/database"
)

// Repository defines payment data access
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	// GetByProviderRef returns ErrPaymentNotFound when no row matches.
	GetByProviderRef(ctx context.Context, provider Provider, ref string) (*Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	// TransitionStatus moves a payment from one status to another and
	// reports false when it was not in from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Create inserts p. A replayed (provider, provider_ref) yields
// ErrDuplicatePayment.
func (r *repository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (id, user_id, provider, provider_ref, kind, amount, currency, credits, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	var raw interface{}
	if len(p.RawPayload) > 0 {
		raw = []byte(p.RawPayload)
	}
	err := r.db.QueryRowxContext(ctx, query,
		p.ID,
		p.UserID,
		p.Provider,
		p.ProviderRef,
		p.Kind,
		p.Amount,
		p.Currency,
		p.Credits,
		p.Status,
		raw,
	).Scan(&p.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

func (r *repository) GetByProviderRef(ctx context.Context, provider Provider, ref string) (*Payment, error) {
	var p Payment
	query := `
		SELECT id, user_id, provider, provider_ref, kind, amount, currency, credits, status, created_at
		FROM payments
		WHERE provider = $1 AND provider_ref = $2
	`
	err := r.db.GetContext(ctx, &p, query, provider, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &p, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE payments SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return n == 1, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	query := `
		SELECT id, user_id, provider, provider_ref, kind, amount, currency, credits, status, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	var payments []*Payment
	err := r.db.SelectContext(ctx, &payments, query, userID, limit, offset)
	return payments, err
}
