package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/techpack/techpack-api/internal/domain/analysis"
	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/domain/payment"
	"github.com/techpack/techpack-api/internal/domain/techpack"
)

func TestMountAPIRoutes_NoConflictingMounts(t *testing.T) {
	root := chi.NewRouter()

	// Stops every request before a handler runs, proving the route matched.
	gate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("registering api routes panicked: %v", rec)
			}
		}()
		root.Route("/api", func(r chi.Router) {
			mountAPIRoutes(r, apiHandlers{
				credit:   credit.NewHandler(nil),
				techpack: techpack.NewHandler(nil),
				analysis: analysis.NewHandler(nil),
				payment:  payment.NewHandler(nil),
			}, gate)
		})
	}()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/credits/balance"},
		{http.MethodGet, "/api/credits/reservations"},
		{http.MethodPost, "/api/tech-pack-v2/generate-complete"},
		{http.MethodPost, "/api/tech-pack-v2/generate-assembly-view"},
		{http.MethodPost, "/api/tech-pack-v2/generate-flat-sketches"},
		{http.MethodPost, "/api/tech-pack-v2/generate-base-views"},
		{http.MethodDelete, "/api/tech-pack-v2/reset"},
		{http.MethodPatch, "/api/tech-pack-v2/update-analysis"},
		{http.MethodGet, "/api/tech-pack-v2/export"},
		{http.MethodPost, "/api/analysis/trigger"},
		{http.MethodGet, "/api/analysis/3f2b8c1e-5a4d-4f7e-9c0b-1d2e3f4a5b6c"},
		{http.MethodPost, "/api/paypal-capture"},
		{http.MethodPost, "/api/payment"},
		{http.MethodPost, "/api/polar/change-plan"},
		{http.MethodGet, "/api/payments/history"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			rr := httptest.NewRecorder()
			root.ServeHTTP(rr, req)
			if rr.Code != http.StatusTeapot {
				t.Fatalf("expected route to reach auth gate, got %d", rr.Code)
			}
		})
	}

	t.Run("unknown route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
		rr := httptest.NewRecorder()
		root.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestPendingQueueWithoutRedis(t *testing.T) {
	if q := pendingQueue(nil); q != nil {
		t.Fatalf("expected nil queue without redis, got %T", q)
	}
}
