package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StockUnknown marks a listing whose feed did not report a quantity.
const StockUnknown = -1

// -----------------------------------------------------------------------------
// Observation Types
// -----------------------------------------------------------------------------

// RawProduct is one product tuple from a single fetch of a seller's
// catalog. Observations are transient; their facts are folded into
// ProductRecord, PriceHistoryEntry and ChangeEvent by the dispatcher.
type RawProduct struct {
	ProductID   string  // Opaque listing identifier, unique per seller
	Title       string  // Display title
	Price       float64 // Current price in the feed's currency unit
	Stock       int     // Available quantity, StockUnknown if not reported
	Description string  // Listing description
	Category    string  // Category or game name
	ImageURL    string  // Main image URL
	URL         string  // Public listing URL
}

// -----------------------------------------------------------------------------
// Persisted Types
// -----------------------------------------------------------------------------

// ProductRecord is the last-known authoritative state of one
// (seller, product) pair. Records are never deleted; a product that
// disappears from the seller's catalog is marked inactive.
type ProductRecord struct {
	SellerID    string    // Seller username
	ProductID   string    // Opaque listing identifier
	Title       string    // Display title
	Price       float64   // Last observed price
	Stock       int       // Last observed quantity, StockUnknown if unreported
	Description string    // Listing description
	Category    string    // Category or game name
	ImageURL    string    // Main image URL
	URL         string    // Public listing URL
	Active      bool      // False once the product left the catalog
	FirstSeenAt time.Time // First observation of this product
	LastSeenAt  time.Time // Most recent observation
}

// PriceHistoryEntry records one price transition. Append-only and
// strictly time-ordered per product.
type PriceHistoryEntry struct {
	SellerID      string
	ProductID     string
	OldPrice      float64
	NewPrice      float64
	PercentChange float64
	ChangedAt     time.Time
}

// ChangeEvent is a persisted, individually-deliverable record of one
// detected change. Append-only; Delivered is the sole mutable field and
// flips only after confirmed downstream delivery.
type ChangeEvent struct {
	ID         uuid.UUID
	SellerID   string
	ProductID  string
	Kind       ChangeKind
	Payload    []byte // Kind-specific JSON diff, see Change.Payload
	DetectedAt time.Time
	Delivered  bool
}

// DecodePayload parses the event's kind-specific JSON diff.
func (e ChangeEvent) DecodePayload() (EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return EventPayload{}, fmt.Errorf("decode event payload: %w", err)
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Derivations
// -----------------------------------------------------------------------------

// PercentChange returns the relative price movement in percent.
// Defined as 0 when the old price is 0; the diff engine classifies
// genuinely new products before this path is reached.
func PercentChange(oldPrice, newPrice float64) float64 {
	if oldPrice == 0 {
		return 0
	}
	return (newPrice - oldPrice) / oldPrice * 100
}
