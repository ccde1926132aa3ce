// Package carrier provides the shipping-carrier aggregator client.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cartloopapp/cartloop/internal/cache"
	"github.com/cartloopapp/cartloop/internal/observability"
)

// Aggregator tokens are valid for ten days; refresh a day early so a token
// never expires mid-call.
const tokenTTL = 9 * 24 * time.Hour

const tokenCacheKey = "carrier:auth_token"

const requestTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	tokenCache cache.Provider
}

func NewClient(baseURL, email, password string, tokenCache cache.Provider) *Client {
	return &Client{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		httpClient: observability.NewHTTPClient(requestTimeout),
		tokenCache: tokenCache,
	}
}

type loginResponse struct {
	Token string `json:"token"`
}

// CancelShipment asks the aggregator to cancel the shipments identified by
// the given AWB numbers. Only valid while the package has not left the
// warehouse network.
func (c *Client) CancelShipment(ctx context.Context, awbs []string) error {
	if len(awbs) == 0 {
		return fmt.Errorf("at least one AWB is required")
	}

	payload := map[string]any{"awbs": awbs}
	return c.post(ctx, "/v1/orders/cancel/shipment/awbs", payload, nil)
}

// ReturnRequest describes a return pickup at the customer's address with a
// drop at the seller's warehouse.
type ReturnRequest struct {
	OrderNumber string       `json:"order_number"`
	Pickup      Address      `json:"pickup_address"`
	Drop        Address      `json:"drop_address"`
	Items       []ReturnItem `json:"items"`
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"address_line1"`
	Line2      string `json:"address_line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"pincode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type ReturnItem struct {
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"units"`
	UnitPrice string `json:"selling_price"`
}

type returnResponse struct {
	ReturnID string `json:"return_id"`
}

// CreateReturn registers a return pickup for a shipment already in motion
// and returns the aggregator's return id.
func (c *Client) CreateReturn(ctx context.Context, request ReturnRequest) (string, error) {
	var resp returnResponse
	if err := c.post(ctx, "/v1/orders/create/return", request, &resp); err != nil {
		return "", err
	}
	if resp.ReturnID == "" {
		return "", fmt.Errorf("carrier returned no return id")
	}
	return resp.ReturnID, nil
}

type TrackingEvent struct {
	Status    string    `json:"status"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

type trackingResponse struct {
	Events []TrackingEvent `json:"tracking_data"`
}

// TrackByAWB returns the tracking events recorded for an AWB, newest last.
func (c *Client) TrackByAWB(ctx context.Context, awb string) ([]TrackingEvent, error) {
	if awb == "" {
		return nil, fmt.Errorf("AWB is required")
	}

	var resp trackingResponse
	if err := c.get(ctx, "/v1/courier/track/awb/"+awb, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if cached, err := c.tokenCache.Get(ctx, tokenCacheKey); err == nil && cached != "" {
		return cached, nil
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("carrier login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("carrier login failed with status %d", resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if login.Token == "" {
		return "", fmt.Errorf("carrier login returned an empty token")
	}

	if err := c.tokenCache.Set(ctx, tokenCacheKey, login.Token, tokenTTL); err != nil {
		return "", fmt.Errorf("failed to cache carrier token: %w", err)
	}
	return login.Token, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("carrier request failed: %w", err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("failed to read carrier response: %w", readErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close carrier response body: %w", closeErr)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked before its expiry; drop it so the next call logs in
		// again.
		_ = c.tokenCache.Delete(ctx, tokenCacheKey)
		return fmt.Errorf("carrier rejected the auth token")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("carrier request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode carrier response: %w", err)
		}
	}
	return nil
}
