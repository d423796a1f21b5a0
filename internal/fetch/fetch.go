package fetch

import (
	"context"
	"errors"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

// ErrSellerNotFound indicates the marketplace does not know the
// seller. Distinct from an empty catalog: a seller with zero listings
// returns an empty slice and a nil error.
var ErrSellerNotFound = errors.New("seller not found")

// Fetcher returns a seller's complete current catalog. A non-nil
// error means the observation failed and must not be treated as an
// empty catalog.
type Fetcher interface {
	Fetch(ctx context.Context, sellerID string) ([]model.RawProduct, error)
}
