package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

// listingsResponse is the wire shape of GET /v1/users/{seller}/listings.
type listingsResponse struct {
	Listings []listing `json:"listings"`
}

type listing struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Quantity    *int    `json:"quantity"`
	Description string  `json:"description"`
	Game        struct {
		Name string `json:"name"`
	} `json:"game"`
	ImageURL string `json:"image_url"`
}

// Fetch returns the seller's complete current catalog. A 404 from the
// API maps to ErrSellerNotFound; every other failure is returned
// unmapped so callers can distinguish transient errors.
func (c *Client) Fetch(ctx context.Context, sellerID string) ([]model.RawProduct, error) {
	path := fmt.Sprintf("/v1/users/%s/listings", url.PathEscape(sellerID))

	var resp listingsResponse
	if err := c.get(ctx, path, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrSellerNotFound, sellerID)
		}
		return nil, fmt.Errorf("fetch listings for %s: %w", sellerID, err)
	}

	products := make([]model.RawProduct, 0, len(resp.Listings))
	for _, l := range resp.Listings {
		products = append(products, convertListing(l))
	}

	c.logger.Debug("fetched seller catalog",
		"seller", sellerID,
		"products", len(products),
	)
	return products, nil
}

func convertListing(l listing) model.RawProduct {
	stock := model.StockUnknown
	if l.Quantity != nil {
		stock = *l.Quantity
	}
	return model.RawProduct{
		ProductID:   l.ID,
		Title:       l.Title,
		Price:       l.Price,
		Stock:       stock,
		Description: l.Description,
		Category:    l.Game.Name,
		ImageURL:    l.ImageURL,
		URL:         "https://eldorado.gg/listings/" + l.ID,
	}
}
