package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/techpack/techpack-api/internal/domain/analysis"
	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/domain/payment"
	"github.com/techpack/techpack-api/internal/domain/techpack"
)

type apiHandlers struct {
	credit   *credit.Handler
	techpack *techpack.Handler
	analysis *analysis.Handler
	payment  *payment.Handler
}

// mountAPIRoutes registers every /api route. Payment provider endpoints sit
// directly under r, so they must not collide with the mounted sub-routers.
func mountAPIRoutes(r chi.Router, h apiHandlers, authMiddleware func(http.Handler) http.Handler) {
	r.Mount("/credits", h.credit.Routes(authMiddleware))
	r.Mount("/tech-pack-v2", h.techpack.Routes(authMiddleware))
	r.Mount("/analysis", h.analysis.Routes(authMiddleware))
	r.Mount("/payments", h.payment.Routes(authMiddleware))
	h.payment.Register(r, authMiddleware)
}
