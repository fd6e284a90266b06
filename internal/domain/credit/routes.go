package credit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/techpack/techpack-api/internal/middleware"
)

// ServiceRole is the JWT role allowed to inspect other users' reservations.
const ServiceRole = "service_role"

// Routes returns credit router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/balance", h.GetBalance)
	r.With(middleware.RequireRole(ServiceRole)).Get("/reservations", h.ListReservations)

	return r
}
