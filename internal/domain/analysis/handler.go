package analysis

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/middleware"
	"github.com/techpack/techpack-api/internal/pkg/errorhandler"
	"github.com/techpack/techpack-api/internal/pkg/response"
	"github.com/techpack/techpack-api/internal/pkg/validator"
)

// Handler handles analysis HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates analysis handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Trigger handles POST /analysis/trigger. The response is sent before any
// analysis runs.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	productID := uuid.MustParse(req.ProductID)
	if err := h.service.authorize(r.Context(), middleware.GetUserID(r.Context()), productID); err != nil {
		h.fail(w, r, err)
		return
	}

	urls := req.ImageURLs
	if req.ImageURL != "" {
		urls = append([]string{req.ImageURL}, urls...)
	}

	var ids []uuid.UUID
	switch {
	case req.MaxRetries != nil:
		for _, u := range urls {
			ids = append(ids, h.service.TriggerBackgroundAnalysisWithRetry(productID, u, *req.MaxRetries, h.service.opts.RetryDelay))
		}
	case len(urls) == 1:
		ids = append(ids, h.service.TriggerBackgroundAnalysis(productID, urls[0]))
	default:
		reqs := make([]Request, 0, len(urls))
		for _, u := range urls {
			reqs = append(reqs, Request{ProductID: productID, ImageURL: u})
		}
		ids = h.service.TriggerBackgroundAnalysisBatch(reqs)
	}

	response.Accepted(w, TriggerResponse{TaskIDs: ids})
}

// List handles GET /analysis/{productId}
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		response.BadRequest(w, "Invalid product ID")
		return
	}
	items, err := h.service.List(r.Context(), middleware.GetUserID(r.Context()), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []*ProductAnalysis{}
	}
	response.OK(w, items)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, err.Error())
	default:
		errorhandler.Internal(r.Context(), w, "analysis request failed", err)
	}
}
