package techpack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/domain/credit/credittest"
	"github.com/techpack/techpack-api/internal/domain/progress"
	"github.com/techpack/techpack-api/internal/pkg/imagegen"
	"github.com/techpack/techpack-api/internal/pkg/storage"
)

type memRepo struct {
	mu        sync.Mutex
	owners    map[uuid.UUID]uuid.UUID
	revisions []*Revision
	artifacts []*Artifact
}

func newMemRepo() *memRepo {
	return &memRepo{owners: map[uuid.UUID]uuid.UUID{}}
}

func (m *memRepo) ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[productID]
	if !ok {
		return uuid.Nil, ErrProductNotFound
	}
	return owner, nil
}

func (m *memRepo) ListRevisions(ctx context.Context, productID uuid.UUID, ids []uuid.UUID) ([]*Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Revision
	for _, r := range m.revisions {
		if r.ProductID != productID {
			continue
		}
		if len(ids) > 0 && !containsID(ids, r.ID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) InsertArtifact(ctx context.Context, a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts = append(m.artifacts, &cp)
	return nil
}

func (m *memRepo) GetArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrArtifactNotFound
}

func (m *memRepo) ListArtifacts(ctx context.Context, productID uuid.UUID, fileType FileType) ([]*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Artifact
	for _, a := range m.artifacts {
		if a.ProductID == productID && (fileType == "" || a.FileType == fileType) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.ID == id {
			a.AnalysisData = analysis
			return nil
		}
	}
	return ErrArtifactNotFound
}

func (m *memRepo) DeleteArtifacts(ctx context.Context, productID uuid.UUID, revisionIDs []uuid.UUID) ([]*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept, deleted []*Artifact
	for _, a := range m.artifacts {
		match := a.ProductID == productID
		if match && len(revisionIDs) > 0 {
			match = a.RevisionID.Valid && containsID(revisionIDs, a.RevisionID.UUID)
		}
		if match {
			deleted = append(deleted, a)
		} else {
			kept = append(kept, a)
		}
	}
	m.artifacts = kept
	return deleted, nil
}

func (m *memRepo) byType(t FileType) []*Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Artifact
	for _, a := range m.artifacts {
		if a.FileType == t {
			out = append(out, a)
		}
	}
	return out
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// countingLedger wraps the real ledger and counts refunds.
type countingLedger struct {
	*credit.Ledger
	mu      sync.Mutex
	refunds []int
}

func (l *countingLedger) RefundReservedCredits(ctx context.Context, userID uuid.UUID, amount int, reservationID uuid.UUID, reason string) error {
	l.mu.Lock()
	l.refunds = append(l.refunds, amount)
	l.mu.Unlock()
	return l.Ledger.RefundReservedCredits(ctx, userID, amount, reservationID, reason)
}

type fakeVision struct {
	analyze func(prompt string) (string, error)
	json    func(prompt string) (string, error)
}

func (v *fakeVision) AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if v.analyze == nil {
		return "```json\n{\"productName\": \"Tote\", \"materials\": [{\"name\": \"canvas\"}],}\n```", nil
	}
	return v.analyze(prompt)
}

func (v *fakeVision) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	if v.json == nil {
		return `{"components": [{"name": "Strap", "description": "handle"}, {"name": "Body Panel", "description": "main"}]}`, nil
	}
	return v.json(prompt)
}

type fakeImages struct {
	mu        sync.Mutex
	generated int
	failAfter int // fail once this many images were generated; <0 never
}

func (f *fakeImages) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.generated >= f.failAfter {
		return nil, errors.New("imagegen http error: status=500 body=overloaded")
	}
	f.generated++
	return &imagegen.Image{Data: testPNG(), ContentType: "image/png"}, nil
}

func (f *fakeImages) Download(ctx context.Context, url string) ([]byte, error) {
	return testPNG(), nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordedEvents) Publish(ctx context.Context, ev progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedEvents) statuses() []progress.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Status
	for _, ev := range r.events {
		out = append(out, ev.Status)
	}
	return out
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type fixture struct {
	svc       *Service
	repo      *memRepo
	store     *credittest.Store
	ledger    *countingLedger
	vision    *fakeVision
	images    *fakeImages
	storage   storage.Storage
	events    *recordedEvents
	userID    uuid.UUID
	productID uuid.UUID
}

func newFixture(t *testing.T, credits int) *fixture {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir(), "http://files.test/static")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	f := &fixture{
		repo:      newMemRepo(),
		store:     credittest.NewStore(),
		vision:    &fakeVision{},
		images:    &fakeImages{failAfter: -1},
		storage:   local,
		events:    &recordedEvents{},
		userID:    uuid.New(),
		productID: uuid.New(),
	}
	f.repo.owners[f.productID] = f.userID
	if credits > 0 {
		f.store.Seed(&credit.Record{UserID: f.userID, Credits: credits, Membership: "add_on"})
	}
	f.ledger = &countingLedger{Ledger: credit.NewLedger(f.store, nil, nil)}
	f.svc = NewService(f.repo, f.ledger, f.vision, f.images, f.storage, f.events)
	return f
}

func (f *fixture) request() *GenerateRequest {
	return &GenerateRequest{
		ProductID:       f.productID.String(),
		UserID:          f.userID.String(),
		Category:        "bag",
		PrimaryImageURL: "https://cdn.test/tote.png",
	}
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}
