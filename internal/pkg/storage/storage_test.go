package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	t.Parallel()

	st, err := NewLocalStorage(t.TempDir(), "/static/")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	ctx := context.Background()
	key := "techpacks/p1/sketch-front.png"
	if err := st.Put(ctx, key, strings.NewReader("png-bytes"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := st.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v", exists, err)
	}

	rc, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content %q", data)
	}

	if got, want := st.GetURL(key), "/static/"+key; got != want {
		t.Fatalf("GetURL = %q, want %q", got, want)
	}

	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, err := st.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	t.Parallel()

	st, err := NewLocalStorage(t.TempDir(), "/static")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	if err := st.Put(context.Background(), "../escape.txt", strings.NewReader("x"), "text/plain"); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
}

func TestReadImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	data, mimeType, err := ReadImage(bytes.NewReader(buf.Bytes()), MaxImageSize)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if mimeType != "image/png" || len(data) != buf.Len() {
		t.Fatalf("unexpected result %s, %d bytes", mimeType, len(data))
	}

	if _, _, err := ReadImage(strings.NewReader("hello"), MaxImageSize); !errors.Is(err, ErrInvalidMimeType) {
		t.Fatalf("expected ErrInvalidMimeType, got %v", err)
	}
	if _, _, err := ReadImage(bytes.NewReader(buf.Bytes()), 8); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if _, _, err := ReadImage(strings.NewReader(""), MaxImageSize); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}
