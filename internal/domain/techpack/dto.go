package techpack

import (
	"encoding/json"

	"github.com/google/uuid"
)

// GenerateRequest is the body of every generate-* route.
type GenerateRequest struct {
	ProductID       string          `json:"productId" validate:"required,uuid"`
	UserID          string          `json:"userId" validate:"omitempty,uuid"`
	RevisionIDs     []string        `json:"revisionIds" validate:"omitempty,max=12,dive,uuid"`
	Category        string          `json:"category" validate:"max=64"`
	PrimaryImageURL string          `json:"primaryImageUrl" validate:"required,url"`
	Options         GenerateOptions `json:"options"`
}

// GenerateOptions tune prompts and step sizes.
type GenerateOptions struct {
	Style       string `json:"style" validate:"max=64"`
	Notes       string `json:"notes" validate:"max=2000"`
	MaxCloseUps int    `json:"maxCloseUps" validate:"gte=0,lte=3"`
}

// ResetRequest is the body of DELETE /tech-pack-v2/reset.
type ResetRequest struct {
	ProductID   string   `json:"productId" validate:"required,uuid"`
	RevisionIDs []string `json:"revisionIds" validate:"omitempty,dive,uuid"`
}

// UpdateAnalysisRequest replaces the whole analysis when Path is empty,
// otherwise sets Value at the dotted Path.
type UpdateAnalysisRequest struct {
	TechFileID string          `json:"techFileId" validate:"required,uuid"`
	Analysis   json.RawMessage `json:"analysis" validate:"required_without=Path"`
	Path       string          `json:"path" validate:"omitempty,max=256,dotted_path"`
	Value      json.RawMessage `json:"value"`
}

// GenerationResult is returned by single-step operations.
type GenerationResult struct {
	CollectionID     uuid.UUID   `json:"collectionId"`
	Artifacts        []*Artifact `json:"artifacts"`
	CreditsUsed      int         `json:"creditsUsed"`
	GenerationTimeMs int64       `json:"generationTimeMs"`
}

// CompleteResult is returned by GenerateComplete.
type CompleteResult struct {
	CollectionID     uuid.UUID   `json:"collectionId"`
	BaseViews        []*Artifact `json:"baseViews"`
	Components       []*Artifact `json:"components"`
	CloseUps         []*Artifact `json:"closeUps"`
	Sketches         []*Artifact `json:"sketches"`
	TotalCreditsUsed int         `json:"totalCreditsUsed"`
	GenerationTimeMs int64       `json:"generationTimeMs"`
}

// ResetResult reports what a reset removed.
type ResetResult struct {
	Deleted int `json:"deleted"`
}

// ExportImage is one optimised export.
type ExportImage struct {
	TechFileID uuid.UUID `json:"techFileId"`
	FileType   FileType  `json:"fileType"`
	ViewName   string    `json:"viewName"`
	URL        string    `json:"url"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// ExportResult lists export images in artifact order.
type ExportResult struct {
	ProductID uuid.UUID     `json:"productId"`
	Images    []ExportImage `json:"images"`
}

// parsedRequest is a validated GenerateRequest with ids parsed.
type parsedRequest struct {
	userID          uuid.UUID
	productID       uuid.UUID
	revisionIDs     []uuid.UUID
	category        string
	primaryImageURL string
	options         GenerateOptions
}

func parseUUIDs(ids []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
