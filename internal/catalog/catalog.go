package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maltedev/price-updater/internal/config"
)

// Product is a catalog entry whose price is tracked on the external site.
// Price is in minor units, the same unit UpdatePrice writes.
type Product struct {
	UUID      string          `json:"uuid,omitempty"`
	ID        string          `json:"id"`
	Link      string          `json:"link"`
	SkuID     string          `json:"skuId,omitempty"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt *Timestamp      `json:"createdAt,omitempty"`
	UpdatedAt *Timestamp      `json:"updatedAt,omitempty"`
}

// PriceMajor is the stored price converted from cents.
func (p Product) PriceMajor() decimal.Decimal {
	return p.Price.Shift(-2)
}

// localLayout is how the catalog writes timestamps without a zone.
const localLayout = "2006-01-02T15:04:05.999999999"

// Timestamp accepts RFC 3339 as well as zone-less local date-times, which
// are read as UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, localLayout} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

type priceUpdate struct {
	ID    string `json:"id"`
	Link  string `json:"link"`
	Price int64  `json:"price"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "catalog"),
	}
}

func NewClientFromConfig(cfg config.CatalogConfig, logger *slog.Logger) *Client {
	return NewClient(cfg.BaseURL, cfg.Timeout, logger)
}

func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/products", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var products []Product
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	c.logger.Info("products loaded", "count", len(products))
	return products, nil
}

// UpdatePrice stores a price given in minor units (cents).
func (c *Client) UpdatePrice(ctx context.Context, id, link string, minor int64) error {
	payload, err := json.Marshal(priceUpdate{ID: id, Link: link, Price: minor})
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/products", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("failed to update product %s: %w", id, err)
	}

	c.logger.Debug("price updated", "product_id", id, "price", minor)
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
