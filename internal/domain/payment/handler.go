package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/middleware"
	"github.com/techpack/techpack-api/internal/pkg/errorhandler"
	"github.com/techpack/techpack-api/internal/pkg/response"
	"github.com/techpack/techpack-api/internal/pkg/validator"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CapturePayPal handles POST /paypal-capture
func (h *Handler) CapturePayPal(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.service.CapturePayPalOrder(r.Context(), middleware.GetUserID(r.Context()), req.OrderID)
	if err != nil {
		h.fail(w, r, "paypal capture failed", err)
		return
	}
	response.OK(w, newPaymentResponse(p))
}

// ActivateSubscription handles POST /payment
func (h *Handler) ActivateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.service.ActivateSubscription(r.Context(), middleware.GetUserID(r.Context()), req.SubscriptionID, req.Plan)
	if err != nil {
		h.fail(w, r, "subscription activation failed", err)
		return
	}
	response.OK(w, newPaymentResponse(p))
}

// ChangePolarPlan handles POST /polar/change-plan
func (h *Handler) ChangePolarPlan(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.service.ChangePolarPlan(r.Context(), middleware.GetUserID(r.Context()), req.SubscriptionID, req.Plan)
	if err != nil {
		h.fail(w, r, "plan change failed", err)
		return
	}
	response.OK(w, newPaymentResponse(p))
}

// History handles GET /payments/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.service.History(r.Context(), middleware.GetUserID(r.Context()), limit, offset)
	if err != nil {
		h.fail(w, r, "payment history failed", err)
		return
	}
	if payments == nil {
		payments = []*Payment{}
	}
	response.OK(w, payments)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid JSON body")
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
	case errors.Is(err, ErrDuplicatePayment):
		response.Conflict(w, err.Error())
	case errors.Is(err, credit.ErrRecordNotFound):
		response.NotFound(w, "No active subscription found")
	case IsClientError(err):
		log.Warn().Err(err).Msg(msg)
		response.BadRequest(w, err.Error())
	default:
		errorhandler.Internal(r.Context(), w, msg, err)
	}
}
