// Package payment talks to the external checkout provider. The engine only
// sees the engine.PaymentClient interface; this is the HTTP implementation.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lotline/lotline/lotline/engine"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	BaseURL string        `toml:"base_url"`
	APIKey  string        `toml:"api_key"`
	Timeout time.Duration `toml:"timeout"`
}

// HTTPClient implements engine.PaymentClient against the provider's
// checkout-session API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type checkoutRequest struct {
	Reference string `json:"reference"`
	AuctionID string `json:"auction_id"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type checkoutResponse struct {
	ID string `json:"id"`
}

type verifyResponse struct {
	Status string `json:"status"`
}

// CreateCheckout opens a checkout session for a settled auction and returns
// the provider's session ID.
func (c *HTTPClient) CreateCheckout(ctx context.Context, s *engine.Settlement) (string, error) {
	body, err := json.Marshal(checkoutRequest{
		Reference: s.ID.String(),
		AuctionID: s.AuctionID.String(),
		BuyerID:   s.BuyerID.String(),
		SellerID:  s.SellerID.String(),
		Amount:    s.FinalPrice.String(),
		Currency:  "usd",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/checkout-sessions",
		bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("checkout request returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("checkout response missing session id")
	}
	return out.ID, nil
}

// VerifyCheckout reports whether the provider captured payment for the
// given session.
func (c *HTTPClient) VerifyCheckout(ctx context.Context, checkoutID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		c.baseURL+"/v1/checkout-sessions/"+checkoutID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("verify request returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return out.Status == "paid" || out.Status == "complete", nil
}
