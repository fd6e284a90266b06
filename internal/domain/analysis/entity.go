package analysis

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/domain/progress"
)

// TaskName labels analysis tasks in background_tasks and metrics.
const TaskName = "product_analysis"

// ProductAnalysis is the cached structured analysis of one product image.
type ProductAnalysis struct {
	ProductID uuid.UUID       `db:"product_id" json:"productId"`
	ImageURL  string          `db:"image_url" json:"imageUrl"`
	Analysis  json.RawMessage `db:"analysis" json:"analysis"`
	Model     string          `db:"model" json:"model"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Request is one image to analyse.
type Request struct {
	ProductID uuid.UUID
	ImageURL  string
}

var (
	ErrProductNotFound = progress.ErrProductNotFound
	ErrForbidden       = errors.New("product belongs to another user")
	ErrNotAnObject     = errors.New("analysis is not a JSON object")
)
