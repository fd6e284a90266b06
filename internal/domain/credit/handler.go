package credit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/middleware"
	"github.com/techpack/techpack-api/internal/pkg/errorhandler"
	"github.com/techpack/techpack-api/internal/pkg/response"
)

const maxReservationPage = 200

// Handler handles credit HTTP requests
type Handler struct {
	ledger *Ledger
}

// NewHandler creates credit handler
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// GetBalance handles GET /credits/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	balance, err := h.ledger.GetBalanceWithRecords(r.Context(), userID)
	if err != nil {
		errorhandler.Internal(r.Context(), w, "failed to load credit balance", err)
		return
	}
	response.OK(w, balance)
}

// ReservationResponse is the operator view of a reservation.
type ReservationResponse struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"userId"`
	Amount         int        `json:"amount"`
	Status         string     `json:"status"`
	Operation      string     `json:"operation"`
	ProductID      *uuid.UUID `json:"productId,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	RefundAttempts int        `json:"refundAttempts"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ListReservations handles GET /credits/reservations?status=&limit=
// Service role only. Defaults to refund_pending, the reservations that
// still owe a user credits.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	status := ReservationStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = ReservationRefundPending
	}
	switch status {
	case ReservationReserved, ReservationCommitted, ReservationRefundPending, ReservationRefunded:
	default:
		response.BadRequest(w, "unknown reservation status")
		return
	}

	limit := maxReservationPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReservationPage)
	}

	items, err := h.ledger.ListReservations(r.Context(), status, time.Now(), limit)
	if err != nil {
		errorhandler.Internal(r.Context(), w, "failed to list reservations", err)
		return
	}

	out := make([]ReservationResponse, 0, len(items))
	for _, res := range items {
		item := ReservationResponse{
			ID:             res.ID,
			UserID:         res.UserID,
			Amount:         res.Amount,
			Status:         string(res.Status),
			Operation:      res.Operation,
			Reason:         res.Reason.String,
			RefundAttempts: res.RefundAttempts,
			UpdatedAt:      res.UpdatedAt,
		}
		if res.ProductID.Valid {
			id := res.ProductID.UUID
			item.ProductID = &id
		}
		out = append(out, item)
	}
	response.OK(w, out)
}
