package analysis

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository persists cached analyses.
type Repository interface {
	Upsert(ctx context.Context, a *ProductAnalysis) error
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]*ProductAnalysis, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates analysis repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Upsert(ctx context.Context, a *ProductAnalysis) error {
	q := `
		INSERT INTO product_analyses (product_id, image_url, analysis, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, image_url) DO UPDATE
		SET analysis = EXCLUDED.analysis, model = EXCLUDED.model, updated_at = NOW()
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowxContext(ctx, q, a.ProductID, a.ImageURL, []byte(a.Analysis), a.Model).
		Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]*ProductAnalysis, error) {
	var out []*ProductAnalysis
	q := `SELECT * FROM product_analyses WHERE product_id = $1 ORDER BY updated_at DESC`
	if err := r.db.SelectContext(ctx, &out, q, productID); err != nil {
		return nil, err
	}
	return out, nil
}
