package techpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/domain/progress"
	"github.com/techpack/techpack-api/internal/pkg/imagegen"
	"github.com/techpack/techpack-api/internal/pkg/jsonrepair"
	"github.com/techpack/techpack-api/internal/pkg/storage"
)

// generation carries the state of one orchestrated request.
type generation struct {
	s            *Service
	req          *parsedRequest
	op           Operation
	collectionID uuid.UUID
	cost         int
}

func (s *Service) newGeneration(p *parsedRequest, op Operation, collectionID uuid.UUID, cost int) *generation {
	return &generation{s: s, req: p, op: op, collectionID: collectionID, cost: cost}
}

// step runs fn and publishes its start and completion.
func (g *generation) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	g.s.publish(ctx, progress.Event{ProductID: g.req.productID, Operation: string(g.op), Step: name, Status: progress.StepStarted})

	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	log.Info().
		Str("operation", string(g.op)).
		Str("step", name).
		Str("product_id", g.req.productID.String()).
		Dur("duration", time.Since(start)).
		Msg("Generation step completed")
	g.s.publish(ctx, progress.Event{ProductID: g.req.productID, Operation: string(g.op), Step: name, Status: progress.StepCompleted})
	return nil
}

type imageSource struct {
	revisionID uuid.NullUUID
	url        string
	view       string
}

// baseViews analyses every active revision image, or the primary image when
// the product has none.
func (g *generation) baseViews(ctx context.Context) ([]*Artifact, error) {
	revisions, err := g.s.repo.ListRevisions(ctx, g.req.productID, g.req.revisionIDs)
	if err != nil {
		return nil, err
	}

	var sources []imageSource
	for _, r := range revisions {
		sources = append(sources, imageSource{
			revisionID: uuid.NullUUID{UUID: r.ID, Valid: true},
			url:        r.ImageURL,
			view:       r.ViewType,
		})
	}
	if len(sources) == 0 {
		sources = append(sources, imageSource{url: g.req.primaryImageURL, view: "primary"})
	}

	var out []*Artifact
	for _, src := range sources {
		image, mime, err := g.loadImage(ctx, src.url)
		if err != nil {
			return nil, err
		}
		text, err := g.s.vision.AnalyzeImage(ctx, baseViewPrompt(g.req.category, src.view, g.req.options), image, mime)
		if err != nil {
			return nil, err
		}
		analysis, err := parseAnalysis(text)
		if err != nil {
			return nil, err
		}

		a := g.artifact(FileBaseView, src.view)
		a.RevisionID = src.revisionID
		a.ImageURL.String, a.ImageURL.Valid = src.url, true
		a.AnalysisData = analysis
		if err := g.s.repo.InsertArtifact(ctx, a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (g *generation) components(ctx context.Context, baseAnalysis json.RawMessage) ([]Component, []*Artifact, error) {
	text, err := g.s.vision.GenerateJSON(ctx, componentsPrompt(g.req.category, baseAnalysis))
	if err != nil {
		return nil, nil, err
	}
	v, err := jsonrepair.ParseJSONSafely(text)
	if err != nil {
		return nil, nil, err
	}
	components, err := decodeComponents(v)
	if err != nil {
		return nil, nil, err
	}

	artifacts := make([]*Artifact, 0, len(components))
	for _, c := range components {
		data, err := json.Marshal(c)
		if err != nil {
			return nil, nil, err
		}
		a := g.artifact(FileComponent, c.Name)
		a.AnalysisData = data
		if err := g.s.repo.InsertArtifact(ctx, a); err != nil {
			return nil, nil, err
		}
		artifacts = append(artifacts, a)
	}
	return components, artifacts, nil
}

func (g *generation) closeUps(ctx context.Context, components []Component) ([]*Artifact, error) {
	n := min(len(components), g.req.options.MaxCloseUps)
	out := make([]*Artifact, 0, n)
	for _, c := range components[:n] {
		data, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		a, err := g.renderImage(ctx, FileCloseUp, c.Name, closeUpPrompt(g.req.category, c, g.req.options), data)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (g *generation) sketches(ctx context.Context, baseAnalysis json.RawMessage) ([]*Artifact, error) {
	out := make([]*Artifact, 0, len(SketchViews))
	for _, view := range SketchViews {
		a, err := g.renderImage(ctx, FileSketch, view, sketchPrompt(g.req.category, view, baseAnalysis, g.req.options), nil)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// renderImage generates an image, stores it and persists its artifact.
func (g *generation) renderImage(ctx context.Context, fileType FileType, name, prompt string, analysis json.RawMessage) (*Artifact, error) {
	img, err := g.s.images.Generate(ctx, imagegen.Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("techpacks/%s/%s/%s-%s%s",
		g.req.productID, g.collectionID, fileType, storageName(name), storage.ExtensionForMime(img.ContentType))
	if err := g.s.storage.Put(ctx, key, bytes.NewReader(img.Data), img.ContentType); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	a := g.artifact(fileType, name)
	a.ImageKey.String, a.ImageKey.Valid = key, true
	a.ImageURL.String, a.ImageURL.Valid = g.s.storage.GetURL(key), true
	a.AnalysisData = analysis
	if err := g.s.repo.InsertArtifact(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (g *generation) artifact(fileType FileType, viewName string) *Artifact {
	now := time.Now()
	return &Artifact{
		ID:           uuid.New(),
		ProductID:    g.req.productID,
		CollectionID: g.collectionID,
		FileType:     fileType,
		ViewName:     viewName,
		CreditsUsed:  g.cost,
		Status:       "completed",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// loadImage downloads a source image and normalises it for the vision model.
func (g *generation) loadImage(ctx context.Context, url string) ([]byte, string, error) {
	raw, err := g.s.images.Download(ctx, url)
	if err != nil {
		return nil, "", err
	}
	res, err := g.s.visionOpt.Optimize(raw)
	if err != nil {
		return nil, "", fmt.Errorf("normalise image: %w", err)
	}
	return res.Data, res.ContentType, nil
}

func parseAnalysis(text string) (json.RawMessage, error) {
	v, err := jsonrepair.ParseJSONSafely(text)
	if err != nil {
		return nil, err
	}
	if !jsonrepair.ValidateTechPackStructure(v) {
		return nil, ErrInvalidAnalysis
	}
	return json.Marshal(v)
}

// decodeComponents accepts {"components": [...]} or a bare array.
func decodeComponents(v any) ([]Component, error) {
	if obj, ok := v.(map[string]any); ok {
		v = obj["components"]
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var components []Component
	if err := json.Unmarshal(raw, &components); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoComponents, err)
	}

	out := components[:0]
	for _, c := range components {
		if c.Name != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoComponents
	}
	return out, nil
}
