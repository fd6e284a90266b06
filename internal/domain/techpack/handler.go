package techpack

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/middleware"
	"github.com/techpack/techpack-api/internal/pkg/errorhandler"
	"github.com/techpack/techpack-api/internal/pkg/response"
	"github.com/techpack/techpack-api/internal/pkg/validator"
)

// Handler handles tech pack HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates tech pack handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GenerateComplete handles POST /tech-pack-v2/generate-complete
func (h *Handler) GenerateComplete(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.GenerateComplete(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, "complete tech pack generation failed", err)
		return
	}
	response.OK(w, result)
}

// GenerateAssemblyView handles POST /tech-pack-v2/generate-assembly-view
func (h *Handler) GenerateAssemblyView(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.GenerateAssemblyView(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, "assembly view generation failed", err)
		return
	}
	response.OK(w, result)
}

// GenerateFlatSketches handles POST /tech-pack-v2/generate-flat-sketches
func (h *Handler) GenerateFlatSketches(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.GenerateFlatSketches(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, "flat sketch generation failed", err)
		return
	}
	response.OK(w, result)
}

// GenerateBaseViews handles POST /tech-pack-v2/generate-base-views
func (h *Handler) GenerateBaseViews(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.GenerateBaseViews(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, "base view analysis failed", err)
		return
	}
	response.OK(w, result)
}

// Reset handles DELETE /tech-pack-v2/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.Reset(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, "tech pack reset failed", err)
		return
	}
	response.OK(w, result)
}

// UpdateAnalysis handles PATCH /tech-pack-v2/update-analysis
func (h *Handler) UpdateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req UpdateAnalysisRequest
	if !decode(w, r, &req) {
		return
	}
	artifact, err := h.service.UpdateAnalysis(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, "analysis update failed", err)
		return
	}
	response.OK(w, artifact)
}

// Export handles GET /tech-pack-v2/export?productId=
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(r.URL.Query().Get("productId"))
	if err != nil {
		response.ValidationError(w, map[string]string{"productId": "Invalid UUID"})
		return
	}
	result, err := h.service.Export(r.Context(), middleware.GetUserID(r.Context()), productID)
	if err != nil {
		h.fail(w, r, "tech pack export failed", err)
		return
	}
	response.OK(w, result)
}

// decode rejects unknown fields and runs struct validation.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.BadRequest(w, "Invalid JSON body: "+err.Error())
		return false
	}
	if errs := validator.Validate(dst); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, credit.ErrInsufficientCredits):
		response.PaymentRequired(w, err.Error())
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrUserMismatch):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrArtifactNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrNothingToExport):
		response.BadRequest(w, err.Error())
	default:
		errorhandler.Internal(r.Context(), w, msg, err)
	}
}
