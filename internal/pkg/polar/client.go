// Package polar is a minimal Polar API client for subscription plan changes.
package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/techpack/techpack-api/internal/pkg/httpclient"
)

const service = "polar"

// Config holds Polar API configuration
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client represents the Polar API client
type Client struct {
	http   *http.Client
	config Config
}

// Subscription is the subset of a Polar subscription we act on.
type Subscription struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ProductID string `json:"product_id"`
}

// NewClient creates new Polar API client
func NewClient(cfg Config) *Client {
	return &Client{http: httpclient.New(cfg.Timeout), config: cfg}
}

// ChangeProduct moves a subscription onto another product (plan).
func (c *Client) ChangeProduct(ctx context.Context, subscriptionID, productID string) (*Subscription, error) {
	if strings.TrimSpace(subscriptionID) == "" || strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("validation error: subscription id and product id must be non-empty")
	}
	if strings.TrimSpace(c.config.AccessToken) == "" {
		return nil, fmt.Errorf("%s config error: access token is empty", service)
	}

	payload, err := json.Marshal(map[string]string{"product_id": productID})
	if err != nil {
		return nil, fmt.Errorf("%s request error: %w", service, err)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s request error: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, httpclient.ClassifyError(ctx, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.StatusError(service, resp)
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to parse polar subscription: %w", err)
	}
	return &sub, nil
}
