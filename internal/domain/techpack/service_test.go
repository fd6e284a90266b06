package techpack

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/domain/progress"
	"github.com/techpack/techpack-api/internal/pkg/jsonrepair"
)

func TestCostTable(t *testing.T) {
	assert.Equal(t, 0, Cost(OpBaseViews))
	assert.Equal(t, 2, Cost(OpAssemblyView))
	assert.Equal(t, 2, Cost(OpFlatSketches))
	assert.Equal(t, 10, Cost(OpComplete))
}

func TestGenerateCompleteSucceeds(t *testing.T) {
	f := newFixture(t, 15)

	result, err := f.svc.GenerateComplete(context.Background(), f.userID, f.request())
	require.NoError(t, err)

	assert.Len(t, result.BaseViews, 1)
	assert.Len(t, result.Components, 2)
	assert.Len(t, result.CloseUps, 2)
	assert.Len(t, result.Sketches, 3)
	assert.Equal(t, 10, result.TotalCreditsUsed)
	assert.Equal(t, 5, f.balance(t))
	assert.Empty(t, f.ledger.refunds)

	for _, a := range append(result.CloseUps, result.Sketches...) {
		assert.Equal(t, result.CollectionID, a.CollectionID)
		require.True(t, a.ImageKey.Valid)
		ok, err := f.storage.Exists(context.Background(), a.ImageKey.String)
		require.NoError(t, err)
		assert.True(t, ok, a.ImageKey.String)
	}
	assert.Contains(t, result.CloseUps[1].ImageKey.String, "close_up-body-panel.png")
	assert.JSONEq(t, `{"name": "Body Panel", "description": "main"}`, string(result.CloseUps[1].AnalysisData))

	statuses := f.events.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, progress.StepStarted, statuses[0])
	assert.Equal(t, progress.Completed, statuses[len(statuses)-1])
}

func TestGenerateCompleteStepTwoFailureRefundsOnce(t *testing.T) {
	f := newFixture(t, 15)
	f.vision.json = func(string) (string, error) {
		return "", errors.New("gemini request error: deadline exceeded")
	}

	_, err := f.svc.GenerateComplete(context.Background(), f.userID, f.request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "components")

	assert.Len(t, f.repo.byType(FileBaseView), 1)
	assert.Empty(t, f.repo.byType(FileComponent))
	assert.Empty(t, f.repo.byType(FileCloseUp))
	assert.Empty(t, f.repo.byType(FileSketch))

	assert.Equal(t, []int{10}, f.ledger.refunds)
	assert.Equal(t, 15, f.balance(t))
	assert.Contains(t, f.events.statuses(), progress.Failed)
}

func TestGenerateCompleteLateFailureKeepsEarlierArtifacts(t *testing.T) {
	f := newFixture(t, 10)
	f.images.failAfter = 1

	_, err := f.svc.GenerateComplete(context.Background(), f.userID, f.request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close_ups")

	assert.Len(t, f.repo.byType(FileComponent), 2)
	assert.Len(t, f.repo.byType(FileCloseUp), 1)
	assert.Empty(t, f.repo.byType(FileSketch))
	assert.Equal(t, []int{10}, f.ledger.refunds)
	assert.Equal(t, 10, f.balance(t))
}

func TestGenerateCompleteUnparseableAnalysis(t *testing.T) {
	f := newFixture(t, 10)
	f.vision.analyze = func(string) (string, error) { return "I cannot help with that", nil }

	_, err := f.svc.GenerateComplete(context.Background(), f.userID, f.request())
	var perr *jsonrepair.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "I cannot help with that")
	assert.Equal(t, []int{10}, f.ledger.refunds)
	assert.Equal(t, 10, f.balance(t))
}

func TestGenerateCompleteRejectsAnalysisWithoutTechPackKeys(t *testing.T) {
	f := newFixture(t, 10)
	f.vision.analyze = func(string) (string, error) { return `{"answer": 42}`, nil }

	_, err := f.svc.GenerateComplete(context.Background(), f.userID, f.request())
	require.ErrorIs(t, err, ErrInvalidAnalysis)
	assert.Empty(t, f.repo.byType(FileBaseView))
	assert.Equal(t, []int{10}, f.ledger.refunds)
}

func TestGenerateCompleteInsufficientCredits(t *testing.T) {
	f := newFixture(t, 4)
	called := false
	f.vision.analyze = func(string) (string, error) {
		called = true
		return `{"productName": "x"}`, nil
	}

	_, err := f.svc.GenerateComplete(context.Background(), f.userID, f.request())
	require.ErrorIs(t, err, credit.ErrInsufficientCredits)
	assert.Equal(t, "insufficient credits: need 10, have 4", err.Error())
	assert.False(t, called)
	assert.Empty(t, f.ledger.refunds)
	assert.Equal(t, 4, f.balance(t))
}

func TestGenerateRejectsForeignProductAndMismatchedUser(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.GenerateFlatSketches(ctx, uuid.New(), &GenerateRequest{ProductID: f.productID.String(), PrimaryImageURL: "https://cdn.test/a.png"})
	assert.ErrorIs(t, err, ErrForbidden)

	req := f.request()
	req.UserID = uuid.NewString()
	_, err = f.svc.GenerateFlatSketches(ctx, f.userID, req)
	assert.ErrorIs(t, err, ErrUserMismatch)

	req = f.request()
	req.ProductID = uuid.NewString()
	_, err = f.svc.GenerateFlatSketches(ctx, f.userID, req)
	assert.ErrorIs(t, err, ErrProductNotFound)

	assert.Equal(t, 10, f.balance(t))
}

func TestGenerateBaseViewsIsFreeAndUsesRevisions(t *testing.T) {
	f := newFixture(t, 0)
	front := &Revision{ID: uuid.New(), ProductID: f.productID, ImageURL: "https://cdn.test/front.png", ViewType: "front"}
	back := &Revision{ID: uuid.New(), ProductID: f.productID, ImageURL: "https://cdn.test/back.png", ViewType: "back"}
	f.repo.revisions = []*Revision{front, back}

	var prompts []string
	f.vision.analyze = func(p string) (string, error) {
		prompts = append(prompts, p)
		return `{"productName": "Tote", "dimensions": {"height": "40cm"}}`, nil
	}

	result, err := f.svc.GenerateBaseViews(context.Background(), f.userID, f.request())
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 2)
	assert.Equal(t, 0, result.CreditsUsed)
	assert.Equal(t, front.ID, result.Artifacts[0].RevisionID.UUID)
	assert.Equal(t, "back", result.Artifacts[1].ViewName)
	assert.Contains(t, prompts[0], "front view")
	assert.Empty(t, f.ledger.refunds)
}

func TestGenerateAssemblyViewAndFlatSketches(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	assembly, err := f.svc.GenerateAssemblyView(ctx, f.userID, f.request())
	require.NoError(t, err)
	require.Len(t, assembly.Artifacts, 1)
	assert.Equal(t, FileAssemblyView, assembly.Artifacts[0].FileType)
	assert.Equal(t, 2, assembly.CreditsUsed)

	sketches, err := f.svc.GenerateFlatSketches(ctx, f.userID, f.request())
	require.NoError(t, err)
	require.Len(t, sketches.Artifacts, 3)
	for i, view := range SketchViews {
		assert.Equal(t, view, sketches.Artifacts[i].ViewName)
	}
	assert.Equal(t, 1, f.balance(t))

	_, err = f.svc.GenerateFlatSketches(ctx, f.userID, f.request())
	assert.ErrorIs(t, err, credit.ErrInsufficientCredits)
}

func TestResetDeletesArtifactsAndImages(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sketches, err := f.svc.GenerateFlatSketches(ctx, f.userID, f.request())
	require.NoError(t, err)
	key := sketches.Artifacts[0].ImageKey.String

	_, err = f.svc.Reset(ctx, uuid.New(), &ResetRequest{ProductID: f.productID.String()})
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.Reset(ctx, f.userID, &ResetRequest{ProductID: f.productID.String()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Empty(t, f.repo.byType(FileSketch))

	ok, err := f.storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 8, f.balance(t))
}

func TestResetLimitedToRevisions(t *testing.T) {
	f := newFixture(t, 0)
	front := &Revision{ID: uuid.New(), ProductID: f.productID, ImageURL: "https://cdn.test/front.png", ViewType: "front"}
	back := &Revision{ID: uuid.New(), ProductID: f.productID, ImageURL: "https://cdn.test/back.png", ViewType: "back"}
	f.repo.revisions = []*Revision{front, back}
	ctx := context.Background()

	_, err := f.svc.GenerateBaseViews(ctx, f.userID, f.request())
	require.NoError(t, err)

	res, err := f.svc.Reset(ctx, f.userID, &ResetRequest{ProductID: f.productID.String(), RevisionIDs: []string{back.ID.String()}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	left := f.repo.byType(FileBaseView)
	require.Len(t, left, 1)
	assert.Equal(t, front.ID, left[0].RevisionID.UUID)
}

func TestUpdateAnalysis(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	result, err := f.svc.GenerateBaseViews(ctx, f.userID, f.request())
	require.NoError(t, err)
	id := result.Artifacts[0].ID.String()

	updated, err := f.svc.UpdateAnalysis(ctx, f.userID, &UpdateAnalysisRequest{
		TechFileID: id,
		Path:       "materials.0.name",
		Value:      json.RawMessage(`"organic canvas"`),
	})
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(updated.AnalysisData, &doc))
	assert.Equal(t, "organic canvas", doc["materials"].([]any)[0].(map[string]any)["name"])
	assert.Equal(t, "Tote", doc["productName"])

	_, err = f.svc.UpdateAnalysis(ctx, f.userID, &UpdateAnalysisRequest{
		TechFileID: id,
		Analysis:   json.RawMessage(`{"productName": "Backpack"}`),
	})
	require.NoError(t, err)
	stored, _ := f.repo.GetArtifact(ctx, result.Artifacts[0].ID)
	assert.JSONEq(t, `{"productName": "Backpack"}`, string(stored.AnalysisData))

	_, err = f.svc.UpdateAnalysis(ctx, f.userID, &UpdateAnalysisRequest{TechFileID: id, Path: "productName.first", Value: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = f.svc.UpdateAnalysis(ctx, uuid.New(), &UpdateAnalysisRequest{TechFileID: id, Analysis: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateAnalysis(ctx, f.userID, &UpdateAnalysisRequest{TechFileID: uuid.NewString(), Analysis: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestExportOptimisesImagesInOrder(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.Export(ctx, f.userID, f.productID)
	require.ErrorIs(t, err, ErrNothingToExport)

	sketches, err := f.svc.GenerateFlatSketches(ctx, f.userID, f.request())
	require.NoError(t, err)

	result, err := f.svc.Export(ctx, f.userID, f.productID)
	require.NoError(t, err)
	require.Len(t, result.Images, 3)
	for i, img := range result.Images {
		assert.Equal(t, sketches.Artifacts[i].ID, img.TechFileID)
		assert.True(t, strings.HasSuffix(img.URL, ".jpg"), img.URL)
		assert.Equal(t, 8, img.Width)

		key := "exports/" + f.productID.String() + "/" + img.TechFileID.String() + ".jpg"
		ok, err := f.storage.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
