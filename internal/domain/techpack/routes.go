package techpack

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns tech pack router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/generate-complete", h.GenerateComplete)
	r.Post("/generate-assembly-view", h.GenerateAssemblyView)
	r.Post("/generate-flat-sketches", h.GenerateFlatSketches)
	r.Post("/generate-base-views", h.GenerateBaseViews)
	r.Delete("/reset", h.Reset)
	r.Patch("/update-analysis", h.UpdateAnalysis)
	r.Get("/export", h.Export)

	return r
}
