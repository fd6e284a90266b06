package techpack

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository persists tech pack artifacts and reads product ownership.
type Repository interface {
	ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error)
	ListRevisions(ctx context.Context, productID uuid.UUID, revisionIDs []uuid.UUID) ([]*Revision, error)

	InsertArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error)
	ListArtifacts(ctx context.Context, productID uuid.UUID, fileType FileType) ([]*Artifact, error)
	UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis json.RawMessage) error
	// DeleteArtifacts removes a product's artifacts, restricted to
	// revisionIDs when non-empty, and returns what was deleted.
	DeleteArtifacts(ctx context.Context, productID uuid.UUID, revisionIDs []uuid.UUID) ([]*Artifact, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates tech pack repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.db.GetContext(ctx, &owner, `SELECT user_id FROM products WHERE id = $1`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrProductNotFound
	}
	return owner, err
}

func (r *repository) ListRevisions(ctx context.Context, productID uuid.UUID, revisionIDs []uuid.UUID) ([]*Revision, error) {
	query := `
		SELECT id, product_id, image_url, view_type
		FROM product_multiview_revisions
		WHERE product_id = ? AND is_active = TRUE
	`
	args := []interface{}{productID}
	if len(revisionIDs) > 0 {
		query += ` AND id IN (?)`
		args = append(args, revisionIDs)
	}
	query += ` ORDER BY created_at`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var revisions []*Revision
	if err := r.db.SelectContext(ctx, &revisions, query, args...); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revisions, nil
}

func (r *repository) InsertArtifact(ctx context.Context, a *Artifact) error {
	if len(a.AnalysisData) == 0 {
		a.AnalysisData = json.RawMessage("null")
	}
	query := `
		INSERT INTO tech_files (
			id, product_id, revision_id, collection_id, file_type, view_name,
			image_url, image_key, analysis_data, credits_used, status, created_at, updated_at
		) VALUES (
			:id, :product_id, :revision_id, :collection_id, :file_type, :view_name,
			:image_url, :image_key, :analysis_data, :credits_used, :status, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("insert tech file: %w", err)
	}
	return nil
}

func (r *repository) GetArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	var a Artifact
	err := r.db.GetContext(ctx, &a, `SELECT * FROM tech_files WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) ListArtifacts(ctx context.Context, productID uuid.UUID, fileType FileType) ([]*Artifact, error) {
	var artifacts []*Artifact
	err := r.db.SelectContext(ctx, &artifacts, `
		SELECT * FROM tech_files
		WHERE product_id = $1 AND ($2::text = '' OR file_type = $2::text)
		ORDER BY created_at, id
	`, productID, string(fileType))
	if err != nil {
		return nil, fmt.Errorf("list tech files: %w", err)
	}
	return artifacts, nil
}

func (r *repository) UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tech_files SET analysis_data = $2, updated_at = NOW()
		WHERE id = $1
	`, id, []byte(analysis))
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrArtifactNotFound
	}
	return nil
}

func (r *repository) DeleteArtifacts(ctx context.Context, productID uuid.UUID, revisionIDs []uuid.UUID) ([]*Artifact, error) {
	query := `DELETE FROM tech_files WHERE product_id = ?`
	args := []interface{}{productID}
	if len(revisionIDs) > 0 {
		query += ` AND revision_id IN (?)`
		args = append(args, revisionIDs)
	}
	query += ` RETURNING *`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}

	var deleted []*Artifact
	if err := r.db.SelectContext(ctx, &deleted, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("delete tech files: %w", err)
	}
	return deleted, nil
}
