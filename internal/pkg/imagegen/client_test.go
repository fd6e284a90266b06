package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestGenerateBase64(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Prompt == "" || body.Model != "img-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(pngHeader)}},
		})
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-key", "img-1", time.Second)
	img, err := client.Generate(context.Background(), Request{Prompt: "front flat sketch"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", img.ContentType)
	}
}

func TestGenerateFollowsURL(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": server.URL + "/files/1.png"}},
		})
	})
	mux.HandleFunc("/files/1.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	})

	client := NewClient(server.URL, "k", "img-1", time.Second)
	img, err := client.Generate(context.Background(), Request{Prompt: "close-up"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img.Data) != string(pngHeader) {
		t.Fatalf("unexpected data %q", img.Data)
	}
}

func TestGenerateHTTPErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "k", "img-1", time.Second)
	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=429") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}

func TestGenerateEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "k", "img-1", time.Second)
	if _, err := client.Generate(context.Background(), Request{Prompt: "x"}); err != ErrEmptyResult {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	client := NewClient("http://unused", "", "img-1", time.Second)
	if _, err := client.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected config error")
	}
}
