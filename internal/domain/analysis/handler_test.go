package analysis

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techpack/techpack-api/internal/middleware"
	"github.com/techpack/techpack-api/internal/pkg/jwt"
)

func serve(t *testing.T, f *fixture, userID uuid.UUID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	jwtSvc := jwt.NewService("secret", time.Minute)
	token, err := jwtSvc.GenerateAccessToken(userID, "maker@example.com", "authenticated")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/api/analysis", NewHandler(f.svc).Routes(middleware.Auth(jwtSvc)))

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerRouteAccepts(t *testing.T) {
	f := newFixture(t, Options{})
	f.vision.release = make(chan struct{})

	w := serve(t, f, f.userID, http.MethodPost, "/api/analysis/trigger", map[string]interface{}{
		"productId": f.productID.String(),
		"imageUrl":  "https://cdn.test/front.png",
		"imageUrls": []string{"https://cdn.test/back.png"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data TriggerResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.TaskIDs, 2)
	assert.Zero(t, f.repo.count())

	close(f.vision.release)
	f.drain(t)
	assert.Equal(t, 2, f.repo.count())
}

func TestTriggerRouteRejects(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		name   string
		userID uuid.UUID
		body   map[string]interface{}
		want   int
	}{
		{"missing image", f.userID, map[string]interface{}{"productId": f.productID.String()}, http.StatusBadRequest},
		{"bad product id", f.userID, map[string]interface{}{"productId": "x", "imageUrl": "https://cdn.test/a.png"}, http.StatusBadRequest},
		{"unknown product", f.userID, map[string]interface{}{"productId": uuid.NewString(), "imageUrl": "https://cdn.test/a.png"}, http.StatusNotFound},
		{"other owner", uuid.New(), map[string]interface{}{"productId": f.productID.String(), "imageUrl": "https://cdn.test/a.png"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, f, tt.userID, http.MethodPost, "/api/analysis/trigger", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	f.drain(t)
	assert.Zero(t, f.fetcher.callsFor("https://cdn.test/a.png"))
}

func TestListRoute(t *testing.T) {
	f := newFixture(t, Options{})

	w := serve(t, f, f.userID, http.MethodGet, "/api/analysis/"+f.productID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success": true, "data": []}`, w.Body.String())
}
