package techpack

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Operation is a billable generation request.
type Operation string

const (
	OpBaseViews    Operation = "base_views"
	OpAssemblyView Operation = "assembly_view"
	OpFlatSketches Operation = "flat_sketches"
	OpComplete     Operation = "complete"
)

var costs = map[Operation]int{
	OpBaseViews:    0,
	OpAssemblyView: 2,
	OpFlatSketches: 2,
	OpComplete:     10,
}

// Cost returns the fixed credit price of op.
func Cost(op Operation) int {
	return costs[op]
}

// FileType of a generated artifact.
type FileType string

const (
	FileBaseView     FileType = "base_view"
	FileComponent    FileType = "component"
	FileCloseUp      FileType = "close_up"
	FileSketch       FileType = "sketch"
	FileAssemblyView FileType = "assembly_view"
)

// SketchViews are generated in this order.
var SketchViews = []string{"front", "back", "side"}

// Artifact is one persisted generation result (tech_files row).
type Artifact struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ProductID    uuid.UUID       `db:"product_id" json:"productId"`
	RevisionID   uuid.NullUUID   `db:"revision_id" json:"revisionId"`
	CollectionID uuid.UUID       `db:"collection_id" json:"collectionId"`
	FileType     FileType        `db:"file_type" json:"fileType"`
	ViewName     string          `db:"view_name" json:"viewName"`
	ImageURL     sql.NullString  `db:"image_url" json:"-"`
	ImageKey     sql.NullString  `db:"image_key" json:"-"`
	AnalysisData json.RawMessage `db:"analysis_data" json:"analysisData,omitempty"`
	CreditsUsed  int             `db:"credits_used" json:"creditsUsed"`
	Status       string          `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}

// MarshalJSON exposes the nullable image URL as a plain string.
func (a Artifact) MarshalJSON() ([]byte, error) {
	type alias Artifact
	return json.Marshal(struct {
		alias
		ImageURL string `json:"imageUrl,omitempty"`
	}{alias: alias(a), ImageURL: a.ImageURL.String})
}

// Revision is an active multiview image of a product.
type Revision struct {
	ID        uuid.UUID `db:"id"`
	ProductID uuid.UUID `db:"product_id"`
	ImageURL  string    `db:"image_url"`
	ViewType  string    `db:"view_type"`
}

// Component is one part identified by the components step.
type Component struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Material    string `json:"material,omitempty"`
}
