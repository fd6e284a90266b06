package analysis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns analysis router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/trigger", h.Trigger)
	r.Get("/{productId}", h.List)

	return r
}
