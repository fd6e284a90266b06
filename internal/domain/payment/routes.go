package payment

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns payment history router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/history", h.History)

	return r
}

// Register mounts the provider endpoints directly under r.
func (h *Handler) Register(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/paypal-capture", h.CapturePayPal)
		r.Post("/payment", h.ActivateSubscription)
		r.Post("/polar/change-plan", h.ChangePolarPlan)
	})
}
