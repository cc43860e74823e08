package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/darkwings/voicecart/pkg/core"
)

// Client queries the catalog service. Lookups are best effort: the service
// may return a subset of the requested SKUs or nothing at all.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a catalog client for the given base URL. A nil
// httpClient gets a default with transport-level timeouts; request lifetime
// stays under the caller's context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ForceAttemptHTTP2:     true,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// List fetches the full product listing.
func (c *Client) List(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/products", nil)
	if err != nil {
		return nil, fmt.Errorf("build products request: %w", err)
	}
	return c.doProducts(req)
}

// LookupBySKU fetches the catalog entries for the given SKU set.
func (c *Client) LookupBySKU(ctx context.Context, skus []string) ([]Product, error) {
	body, err := json.Marshal(struct {
		SKUs []string `json:"skus"`
	}{SKUs: skus})
	if err != nil {
		return nil, fmt.Errorf("encode sku lookup: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/products/skus", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sku lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doProducts(req)
}

// OrderItem is one line of an order submission.
type OrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderConfirmation is the catalog service's record of an accepted order.
type OrderConfirmation struct {
	OrderID         int64   `json:"orderId"`
	Total           float64 `json:"total"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
}

// CreateOrder submits an order. The service prices it from the catalog;
// only SKUs and quantities travel.
func (c *Client) CreateOrder(ctx context.Context, items []OrderItem) (*OrderConfirmation, error) {
	body, err := json.Marshal(struct {
		Items []OrderItem `json:"items"`
	}{Items: items})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewCatalogError("order request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.NewCatalogError(fmt.Sprintf("order returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var confirmation OrderConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&confirmation); err != nil {
		return nil, core.NewCatalogError("decode order confirmation: " + err.Error())
	}
	return &confirmation, nil
}

func (c *Client) doProducts(req *http.Request) ([]Product, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewCatalogError("catalog request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.NewCatalogError(fmt.Sprintf("catalog returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var products []Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, core.NewCatalogError("decode catalog response: " + err.Error())
	}
	return products, nil
}
