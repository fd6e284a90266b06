package techpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/domain/progress"
	"github.com/techpack/techpack-api/internal/pkg/imagegen"
	imgopt "github.com/techpack/techpack-api/internal/pkg/imaging"
	"github.com/techpack/techpack-api/internal/pkg/metrics"
	"github.com/techpack/techpack-api/internal/pkg/storage"
)

const defaultCloseUps = 3

// Ledger is the part of the credit ledger the orchestrator needs.
type Ledger interface {
	ReserveCredits(ctx context.Context, userID uuid.UUID, amount int, meta credit.ReserveMeta) (*credit.ReserveResult, error)
	RefundReservedCredits(ctx context.Context, userID uuid.UUID, amount int, reservationID uuid.UUID, reason string) error
	MarkCommitted(ctx context.Context, reservationID uuid.UUID)
}

// Vision analyses images and produces structured JSON text.
type Vision interface {
	AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// ImageGenerator renders images from prompts and fetches source images.
type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// ProgressPublisher receives generation progress. Errors are ignored.
type ProgressPublisher interface {
	Publish(ctx context.Context, ev progress.Event) error
}

// Service orchestrates tech pack generation.
type Service struct {
	repo      Repository
	ledger    Ledger
	vision    Vision
	images    ImageGenerator
	storage   storage.Storage
	progress  ProgressPublisher
	visionOpt *imgopt.Optimizer
	exportOpt *imgopt.Optimizer
}

// NewService creates tech pack service. publisher may be nil.
func NewService(repo Repository, ledger Ledger, vision Vision, images ImageGenerator, store storage.Storage, publisher ProgressPublisher) *Service {
	return &Service{
		repo:      repo,
		ledger:    ledger,
		vision:    vision,
		images:    images,
		storage:   store,
		progress:  publisher,
		visionOpt: imgopt.NewOptimizer(imgopt.VisionConfig()),
		exportOpt: imgopt.NewOptimizer(imgopt.DefaultConfig()),
	}
}

// GenerateComplete runs base views, components, close-ups and sketches in
// that order for 10 credits.
func (s *Service) GenerateComplete(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*CompleteResult, error) {
	p, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	result := &CompleteResult{CollectionID: uuid.New()}
	start := time.Now()
	cost := Cost(OpComplete)

	err = s.run(ctx, p, OpComplete, func(ctx context.Context) error {
		g := s.newGeneration(p, OpComplete, result.CollectionID, cost)

		if err := g.step(ctx, "base_views", func(ctx context.Context) error {
			result.BaseViews, err = g.baseViews(ctx)
			return err
		}); err != nil {
			return err
		}

		var components []Component
		if err := g.step(ctx, "components", func(ctx context.Context) error {
			components, result.Components, err = g.components(ctx, result.BaseViews[0].AnalysisData)
			return err
		}); err != nil {
			return err
		}

		if err := g.step(ctx, "close_ups", func(ctx context.Context) error {
			result.CloseUps, err = g.closeUps(ctx, components)
			return err
		}); err != nil {
			return err
		}

		return g.step(ctx, "sketches", func(ctx context.Context) error {
			result.Sketches, err = g.sketches(ctx, result.BaseViews[0].AnalysisData)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	result.TotalCreditsUsed = cost
	result.GenerationTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// GenerateAssemblyView renders one exploded assembly image for 2 credits.
func (s *Service) GenerateAssemblyView(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*GenerationResult, error) {
	return s.single(ctx, userID, req, OpAssemblyView, func(ctx context.Context, g *generation) ([]*Artifact, error) {
		analysis, err := s.latestAnalysis(ctx, g.req.productID)
		if err != nil {
			return nil, err
		}
		prompt := assemblyPrompt(g.req.category, analysis, g.req.options)
		a, err := g.renderImage(ctx, FileAssemblyView, "assembly", prompt, nil)
		if err != nil {
			return nil, err
		}
		return []*Artifact{a}, nil
	})
}

// GenerateFlatSketches renders front, back and side sketches for 2 credits.
func (s *Service) GenerateFlatSketches(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*GenerationResult, error) {
	return s.single(ctx, userID, req, OpFlatSketches, func(ctx context.Context, g *generation) ([]*Artifact, error) {
		analysis, err := s.latestAnalysis(ctx, g.req.productID)
		if err != nil {
			return nil, err
		}
		return g.sketches(ctx, analysis)
	})
}

// GenerateBaseViews runs the free analysis step only.
func (s *Service) GenerateBaseViews(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*GenerationResult, error) {
	return s.single(ctx, userID, req, OpBaseViews, func(ctx context.Context, g *generation) ([]*Artifact, error) {
		return g.baseViews(ctx)
	})
}

func (s *Service) single(ctx context.Context, userID uuid.UUID, req *GenerateRequest, op Operation,
	fn func(ctx context.Context, g *generation) ([]*Artifact, error)) (*GenerationResult, error) {
	p, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{CollectionID: uuid.New()}
	start := time.Now()

	err = s.run(ctx, p, op, func(ctx context.Context) error {
		g := s.newGeneration(p, op, result.CollectionID, Cost(op))
		return g.step(ctx, string(op), func(ctx context.Context) error {
			result.Artifacts, err = fn(ctx, g)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	result.CreditsUsed = Cost(op)
	result.GenerationTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// run reserves the operation's cost, runs fn and refunds the full amount
// exactly once if fn fails. Zero-cost operations skip the ledger.
func (s *Service) run(ctx context.Context, p *parsedRequest, op Operation, fn func(ctx context.Context) error) error {
	cost := Cost(op)
	start := time.Now()

	var reservation *credit.ReserveResult
	if cost > 0 {
		res, err := s.ledger.ReserveCredits(ctx, p.userID, cost, credit.ReserveMeta{Operation: string(op), ProductID: p.productID})
		if err != nil {
			metrics.Generations.WithLabelValues(string(op), "rejected").Inc()
			return err
		}
		reservation = res
	}

	err := fn(ctx)
	metrics.GenerationDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Generations.WithLabelValues(string(op), "failed").Inc()
		log.Error().
			Err(err).
			Str("operation", string(op)).
			Str("product_id", p.productID.String()).
			Str("user_id", p.userID.String()).
			Msg("Tech pack generation failed")
		s.publish(ctx, progress.Event{ProductID: p.productID, Operation: string(op), Status: progress.Failed, Message: err.Error()})

		if reservation != nil {
			reason := fmt.Sprintf("%s failed: %v", op, err)
			// The request context may already be cancelled.
			refundCtx := context.WithoutCancel(ctx)
			if rerr := s.ledger.RefundReservedCredits(refundCtx, p.userID, cost, reservation.ReservationID, reason); rerr != nil {
				log.Error().
					Err(rerr).
					Str("reservation_id", reservation.ReservationID.String()).
					Msg("Refund after failed generation did not complete")
			}
		}
		return err
	}

	if reservation != nil {
		s.ledger.MarkCommitted(context.WithoutCancel(ctx), reservation.ReservationID)
	}
	metrics.Generations.WithLabelValues(string(op), "ok").Inc()
	s.publish(ctx, progress.Event{ProductID: p.productID, Operation: string(op), Status: progress.Completed})
	return nil
}

func (s *Service) prepare(ctx context.Context, userID uuid.UUID, req *GenerateRequest) (*parsedRequest, error) {
	if req.UserID != "" && req.UserID != userID.String() {
		return nil, ErrUserMismatch
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, ErrProductNotFound
	}
	revisionIDs, err := parseUUIDs(req.RevisionIDs)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, productID); err != nil {
		return nil, err
	}

	opts := req.Options
	if opts.MaxCloseUps == 0 {
		opts.MaxCloseUps = defaultCloseUps
	}
	return &parsedRequest{
		userID:          userID,
		productID:       productID,
		revisionIDs:     revisionIDs,
		category:        req.Category,
		primaryImageURL: req.PrimaryImageURL,
		options:         opts,
	}, nil
}

func (s *Service) authorize(ctx context.Context, userID, productID uuid.UUID) error {
	owner, err := s.repo.ProductOwner(ctx, productID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

// latestAnalysis returns the most recent base view analysis of a product, or
// an empty object when none was generated yet.
func (s *Service) latestAnalysis(ctx context.Context, productID uuid.UUID) (json.RawMessage, error) {
	views, err := s.repo.ListArtifacts(ctx, productID, FileBaseView)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return json.RawMessage("{}"), nil
	}
	return views[len(views)-1].AnalysisData, nil
}

func (s *Service) publish(ctx context.Context, ev progress.Event) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Publish(ctx, ev); err != nil {
		log.Debug().Err(err).Str("product_id", ev.ProductID.String()).Msg("Progress publish failed")
	}
}

// Reset deletes generated artifacts of a product, limited to revisionIDs
// when given, and their stored images.
func (s *Service) Reset(ctx context.Context, userID uuid.UUID, req *ResetRequest) (*ResetResult, error) {
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, ErrProductNotFound
	}
	revisionIDs, err := parseUUIDs(req.RevisionIDs)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, productID); err != nil {
		return nil, err
	}

	deleted, err := s.repo.DeleteArtifacts(ctx, productID, revisionIDs)
	if err != nil {
		return nil, err
	}
	for _, a := range deleted {
		if !a.ImageKey.Valid {
			continue
		}
		if err := s.storage.Delete(ctx, a.ImageKey.String); err != nil {
			log.Warn().Err(err).Str("key", a.ImageKey.String).Msg("Failed to delete tech file image")
		}
	}

	log.Info().
		Str("product_id", productID.String()).
		Int("deleted", len(deleted)).
		Msg("Tech pack reset")
	return &ResetResult{Deleted: len(deleted)}, nil
}

// UpdateAnalysis replaces a tech file's analysis or sets one dotted path in it.
func (s *Service) UpdateAnalysis(ctx context.Context, userID uuid.UUID, req *UpdateAnalysisRequest) (*Artifact, error) {
	id, err := uuid.Parse(req.TechFileID)
	if err != nil {
		return nil, ErrArtifactNotFound
	}
	a, err := s.repo.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, a.ProductID); err != nil {
		return nil, err
	}

	var updated json.RawMessage
	if req.Path == "" {
		if !json.Valid(req.Analysis) {
			return nil, fmt.Errorf("%w: analysis", ErrInvalidJSON)
		}
		updated = req.Analysis
	} else {
		updated, err = setPath(a.AnalysisData, req.Path, req.Value)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateAnalysis(ctx, id, updated); err != nil {
		return nil, err
	}
	a.AnalysisData = updated
	a.UpdatedAt = time.Now()
	return a, nil
}

// Export optimises every generated image of a product concurrently and
// stores the results under exports/.
func (s *Service) Export(ctx context.Context, userID, productID uuid.UUID) (*ExportResult, error) {
	if err := s.authorize(ctx, userID, productID); err != nil {
		return nil, err
	}

	all, err := s.repo.ListArtifacts(ctx, productID, "")
	if err != nil {
		return nil, err
	}
	var artifacts []*Artifact
	for _, a := range all {
		if a.ImageKey.Valid {
			artifacts = append(artifacts, a)
		}
	}
	if len(artifacts) == 0 {
		return nil, ErrNothingToExport
	}

	sources := make([][]byte, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, a := range artifacts {
		g.Go(func() error {
			data, err := s.readObject(gctx, a.ImageKey.String)
			if err != nil {
				return fmt.Errorf("read %s: %w", a.ImageKey.String, err)
			}
			sources[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	optimized, err := s.exportOpt.OptimizeAll(ctx, sources)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{ProductID: productID, Images: make([]ExportImage, len(artifacts))}
	for i, a := range artifacts {
		img := optimized[i]
		key := fmt.Sprintf("exports/%s/%s%s", productID, a.ID, storage.ExtensionForMime(img.ContentType))
		if err := s.storage.Put(ctx, key, bytes.NewReader(img.Data), img.ContentType); err != nil {
			return nil, fmt.Errorf("store export: %w", err)
		}
		result.Images[i] = ExportImage{
			TechFileID: a.ID,
			FileType:   a.FileType,
			ViewName:   a.ViewName,
			URL:        s.storage.GetURL(key),
			Width:      img.Width,
			Height:     img.Height,
		}
	}
	return result, nil
}

func (s *Service) readObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ProductOwner exposes ownership lookups to the progress stream.
func (s *Service) ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	return s.repo.ProductOwner(ctx, productID)
}

func storageName(name string) string {
	if s := slug.Make(name); s != "" {
		return s
	}
	return "item"
}
