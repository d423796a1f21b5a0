package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

// Client publishes catalog changes to the offers API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates an offers API client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createOfferRequest struct {
	ExternalID string  `json:"external_id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Quantity   *int    `json:"quantity,omitempty"`
}

type updateOfferRequest struct {
	Price *float64 `json:"price,omitempty"`
	Title string   `json:"title,omitempty"`
}

// Publish mirrors one change event to the offers API.
func (c *Client) Publish(ctx context.Context, ev model.ChangeEvent) error {
	p, err := ev.DecodePayload()
	if err != nil {
		return err
	}

	switch ev.Kind {
	case model.ChangeNew:
		body := createOfferRequest{
			ExternalID: ev.ProductID,
			Title:      p.Title,
			Price:      p.Price,
		}
		if p.Stock != nil && *p.Stock != model.StockUnknown {
			body.Quantity = p.Stock
		}
		return c.do(ctx, http.MethodPost, "/v1/offers", body)

	case model.ChangePriceChanged:
		price := p.NewPrice
		return c.do(ctx, http.MethodPatch, c.offerPath(ev.ProductID), updateOfferRequest{Price: &price})

	case model.ChangeEdited:
		return c.do(ctx, http.MethodPatch, c.offerPath(ev.ProductID), updateOfferRequest{Title: p.Title})

	case model.ChangeRemoved:
		return c.do(ctx, http.MethodDelete, c.offerPath(ev.ProductID), nil)
	}

	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

func (c *Client) offerPath(productID string) string {
	return "/v1/offers/" + url.PathEscape(productID)
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("offers api %s %s: status %d", method, path, resp.StatusCode)
	}

	c.logger.Debug("offer published", "method", method, "path", path)
	return nil
}
