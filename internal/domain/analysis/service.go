// Package analysis caches structured analyses of product images. The work
// runs in the background and never blocks the request that asked for it.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/pkg/dispatch"
	imgopt "github.com/techpack/techpack-api/internal/pkg/imaging"
	"github.com/techpack/techpack-api/internal/pkg/jsonrepair"
)

const analysisPrompt = `Analyse this product photo for a manufacturing tech pack.
Respond with a single JSON object with the keys "productName", "category", "materials" (array of {name, placement}),
"colors" (array of strings), "construction" (array of strings) and "components" (array of {name, description}).`

// Vision analyses one image and returns the model's raw text.
type Vision interface {
	AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Fetcher downloads source images.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// OwnerLookup resolves the owner of a product.
type OwnerLookup interface {
	ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error)
}

// Options holds retry defaults for requests that do not set their own.
type Options struct {
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// Service analyses product images.
type Service struct {
	repo       Repository
	vision     Vision
	fetcher    Fetcher
	owners     OwnerLookup
	dispatcher *dispatch.Dispatcher
	optimizer  *imgopt.Optimizer
	opts       Options
}

// NewService creates analysis service
func NewService(repo Repository, vision Vision, fetcher Fetcher, owners OwnerLookup, dispatcher *dispatch.Dispatcher, opts Options) *Service {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Service{
		repo:       repo,
		vision:     vision,
		fetcher:    fetcher,
		owners:     owners,
		dispatcher: dispatcher,
		optimizer:  imgopt.NewOptimizer(imgopt.VisionConfig()),
		opts:       opts,
	}
}

// Analyze downloads and normalises the image, asks the vision model for a
// structured description, repairs the answer and caches it.
func (s *Service) Analyze(ctx context.Context, productID uuid.UUID, imageURL string) (*ProductAnalysis, error) {
	raw, err := s.fetcher.Download(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	img, err := s.optimizer.Optimize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalise image: %w", err)
	}

	text, err := s.vision.AnalyzeImage(ctx, analysisPrompt, img.Data, img.ContentType)
	if err != nil {
		return nil, err
	}
	v, err := jsonrepair.ParseJSONSafely(text)
	if err != nil {
		return nil, err
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, ErrNotAnObject
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	a := &ProductAnalysis{
		ProductID: productID,
		ImageURL:  imageURL,
		Analysis:  data,
		Model:     s.opts.Model,
	}
	if err := s.repo.Upsert(ctx, a); err != nil {
		return nil, fmt.Errorf("cache analysis: %w", err)
	}
	return a, nil
}

// TriggerBackgroundAnalysis schedules a single attempt and returns at once.
func (s *Service) TriggerBackgroundAnalysis(productID uuid.UUID, imageURL string) uuid.UUID {
	return s.dispatcher.Trigger(TaskName, productID.String(), s.task(productID, imageURL))
}

// TriggerBackgroundAnalysisWithRetry schedules up to 1+maxRetries attempts
// spaced by delay. Failures are logged, never returned.
func (s *Service) TriggerBackgroundAnalysisWithRetry(productID uuid.UUID, imageURL string, maxRetries int, delay time.Duration) uuid.UUID {
	return s.dispatcher.TriggerWithRetry(TaskName, productID.String(), s.task(productID, imageURL), maxRetries, delay)
}

// TriggerBackgroundAnalysisBatch dispatches every request independently
// with the configured retry policy.
func (s *Service) TriggerBackgroundAnalysisBatch(reqs []Request) []uuid.UUID {
	items := make([]dispatch.BatchItem, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, dispatch.BatchItem{Ref: r.ProductID.String(), Fn: s.task(r.ProductID, r.ImageURL)})
	}
	return s.dispatcher.TriggerBatch(TaskName, items, s.opts.MaxRetries, s.opts.RetryDelay)
}

// List returns the cached analyses of a product owned by userID.
func (s *Service) List(ctx context.Context, userID, productID uuid.UUID) ([]*ProductAnalysis, error) {
	if err := s.authorize(ctx, userID, productID); err != nil {
		return nil, err
	}
	return s.repo.ListByProduct(ctx, productID)
}

func (s *Service) authorize(ctx context.Context, userID, productID uuid.UUID) error {
	owner, err := s.owners.ProductOwner(ctx, productID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) task(productID uuid.UUID, imageURL string) dispatch.Func {
	return func(ctx context.Context) error {
		a, err := s.Analyze(ctx, productID, imageURL)
		if err != nil {
			return err
		}
		log.Debug().
			Str("product_id", productID.String()).
			Int("bytes", len(a.Analysis)).
			Msg("Product analysis cached")
		return nil
	}
}
