// Package paypal is a minimal PayPal REST client: order capture and
// subscription lookup.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/techpack/techpack-api/internal/pkg/httpclient"
)

const service = "paypal"

// ErrNotCompleted is returned when a capture finishes in any state other
// than COMPLETED.
var ErrNotCompleted = errors.New("paypal capture not completed")

// Config holds PayPal API configuration
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client represents the PayPal REST client
type Client struct {
	http   *http.Client
	config Config

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Capture is the result of capturing an order.
type Capture struct {
	OrderID   string
	CaptureID string
	Status    string
	Amount    string // decimal string as returned by PayPal, e.g. "10.00"
	Currency  string
	Raw       json.RawMessage
}

// Subscription is the subset of a billing subscription we act on.
type Subscription struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	PlanID string          `json:"plan_id"`
	Raw    json.RawMessage `json:"-"`
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					Value        string `json:"value"`
					CurrencyCode string `json:"currency_code"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// NewClient creates new PayPal API client
func NewClient(cfg Config) *Client {
	return &Client{
		http:   httpclient.New(cfg.Timeout),
		config: cfg,
	}
}

// CaptureOrder captures an approved checkout order.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("validation error: order id must be non-empty")
	}

	raw, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}

	var out captureResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse paypal capture response: %w", err)
	}

	capture := &Capture{OrderID: out.ID, Status: out.Status, Raw: raw}
	if len(out.PurchaseUnits) > 0 && len(out.PurchaseUnits[0].Payments.Captures) > 0 {
		pc := out.PurchaseUnits[0].Payments.Captures[0]
		capture.CaptureID = pc.ID
		capture.Amount = pc.Amount.Value
		capture.Currency = pc.Amount.CurrencyCode
	}
	if capture.Status != "COMPLETED" || capture.Amount == "" {
		return capture, fmt.Errorf("%w: status=%s", ErrNotCompleted, capture.Status)
	}
	return capture, nil
}

// GetSubscription fetches a billing subscription.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, fmt.Errorf("validation error: subscription id must be non-empty")
	}

	raw, err := c.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}

	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse paypal subscription: %w", err)
	}
	sub.Raw = raw
	return &sub, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s request error: %w", service, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, httpclient.ClassifyError(ctx, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.StatusError(service, resp)
	}
	return io.ReadAll(resp.Body)
}

// accessToken returns a cached OAuth token, refreshing it a minute early.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if strings.TrimSpace(c.config.ClientID) == "" || strings.TrimSpace(c.config.ClientSecret) == "" {
		return "", fmt.Errorf("%s config error: client credentials are empty", service)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s token error: %w", service, err)
	}
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", httpclient.ClassifyError(ctx, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpclient.StatusError(service, resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s token error: %w", service, err)
	}

	c.token = out.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}
