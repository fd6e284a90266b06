// Package imagegen is a client for an OpenAI-compatible image generation API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/techpack/techpack-api/internal/pkg/httpclient"
	"github.com/techpack/techpack-api/internal/pkg/storage"
)

const (
	service     = "imagegen"
	defaultSize = "1024x1024"
)

// ErrEmptyResult is returned when the vendor answers 200 without an image.
var ErrEmptyResult = errors.New("imagegen returned no image")

// Client calls the image generation endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// Request describes one image.
type Request struct {
	Prompt string
	Size   string // e.g. 1024x1024
}

// Image is a generated image.
type Image struct {
	Data        []byte
	ContentType string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type generateResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// NewClient creates a new image generation client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    httpclient.New(timeout),
	}
}

// Generate produces a single image for req.
func (c *Client) Generate(ctx context.Context, req Request) (*Image, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("%s request error: client is nil", service)
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, fmt.Errorf("%s config error: api key is empty", service)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%s request error: prompt is empty", service)
	}
	size := req.Size
	if size == "" {
		size = defaultSize
	}

	payload, err := json.Marshal(generateRequest{Model: c.model, Prompt: req.Prompt, Size: size, N: 1})
	if err != nil {
		return nil, fmt.Errorf("%s request error: %w", service, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s request error: %w", service, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyError(ctx, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.StatusError(service, resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s decode error: %w", service, err)
	}
	if len(out.Data) == 0 {
		return nil, ErrEmptyResult
	}

	first := out.Data[0]
	var data []byte
	switch {
	case first.B64JSON != "":
		data, err = base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%s decode error: %w", service, err)
		}
	case first.URL != "":
		data, err = c.Download(ctx, first.URL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrEmptyResult
	}

	return &Image{Data: data, ContentType: storage.DetectMimeType(data)}, nil
}

// Download fetches an image by URL, bounded by storage.MaxImageSize.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s download error: %w", service, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, httpclient.ClassifyError(ctx, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.StatusError(service, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, storage.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s download error: %w", service, err)
	}
	if len(data) > storage.MaxImageSize {
		return nil, fmt.Errorf("%s download error: %w", service, storage.ErrFileTooLarge)
	}
	return data, nil
}
