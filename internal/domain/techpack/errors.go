package techpack

import (
	"errors"

	"github.com/techpack/techpack-api/internal/domain/progress"
)

var (
	// ErrProductNotFound is shared with the progress stream.
	ErrProductNotFound  = progress.ErrProductNotFound
	ErrArtifactNotFound = errors.New("tech file not found")
	ErrForbidden        = errors.New("product belongs to another user")
	ErrUserMismatch     = errors.New("userId does not match the authenticated user")

	// ErrInvalidAnalysis is returned when the model output parses but has none
	// of the expected tech pack keys.
	ErrInvalidAnalysis = errors.New("analysis is missing tech pack fields")

	ErrNoComponents    = errors.New("no components identified")
	ErrInvalidPath     = errors.New("invalid analysis path")
	ErrInvalidJSON     = errors.New("invalid JSON")
	ErrNothingToExport = errors.New("no generated images to export")
)
