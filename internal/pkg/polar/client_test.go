package polar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChangeProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/subscriptions/sub_1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer polar-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(Subscription{ID: "sub_1", Status: "active", ProductID: body["product_id"]})
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{BaseURL: server.URL, AccessToken: "polar-token", Timeout: time.Second})
	sub, err := client.ChangeProduct(context.Background(), "sub_1", "prod_business")
	if err != nil {
		t.Fatalf("ChangeProduct: %v", err)
	}
	if sub.ProductID != "prod_business" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
}

func TestChangeProductHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("invalid product"))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{BaseURL: server.URL, AccessToken: "t"})
	_, err := client.ChangeProduct(context.Background(), "sub_1", "bad")
	if err == nil || !strings.Contains(err.Error(), "status=422") {
		t.Fatalf("expected status in error, got %v", err)
	}
}
