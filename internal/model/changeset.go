package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeKind classifies one detected change.
type ChangeKind string

const (
	ChangeNew          ChangeKind = "new"
	ChangePriceChanged ChangeKind = "price_changed"
	ChangeEdited       ChangeKind = "edited"
	ChangeRemoved      ChangeKind = "removed"
)

// Valid reports whether k is one of the four defined kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeNew, ChangePriceChanged, ChangeEdited, ChangeRemoved:
		return true
	}
	return false
}

// Change is one tagged variant in a ChangeSet. Which fields are set
// depends on Kind:
//
//   - ChangeNew: Observed
//   - ChangePriceChanged: Observed, Previous, OldPrice, NewPrice,
//     PercentChange, and when the price move came with other field
//     edits, OtherFieldsChanged plus ChangedFields
//   - ChangeEdited: Observed, Previous, ChangedFields
//   - ChangeRemoved: Previous
type Change struct {
	Kind      ChangeKind
	ProductID string

	Observed *RawProduct    // Latest fetched state; nil for ChangeRemoved
	Previous *ProductRecord // Prior stored state; nil for ChangeNew

	OldPrice      float64
	NewPrice      float64
	PercentChange float64

	ChangedFields      []string // Non-price fields that differ
	OtherFieldsChanged bool     // Price change accompanied by field edits
}

// ChangeSet is the structured diff between a seller's stored active set
// and one observation. Changes for a product appear at most once.
type ChangeSet struct {
	SellerID   string
	ObservedAt time.Time
	Changes    []Change
}

// Empty reports whether the ChangeSet carries no changes.
func (cs ChangeSet) Empty() bool { return len(cs.Changes) == 0 }

// CountByKind returns how many changes of each kind the set carries.
func (cs ChangeSet) CountByKind() map[ChangeKind]int {
	counts := make(map[ChangeKind]int, 4)
	for _, c := range cs.Changes {
		counts[c.Kind]++
	}
	return counts
}

// EventPayload is the JSON shape persisted in ChangeEvent.Payload.
// Which fields are populated depends on the event kind.
type EventPayload struct {
	Title         string   `json:"title,omitempty"`
	Price         float64  `json:"price,omitempty"`
	Stock         *int     `json:"stock,omitempty"`
	URL           string   `json:"url,omitempty"`
	OldPrice      float64  `json:"old_price,omitempty"`
	NewPrice      float64  `json:"new_price,omitempty"`
	PercentChange float64  `json:"percent_change,omitempty"`
	ChangedFields []string `json:"changed_fields,omitempty"`
	LastPrice     float64  `json:"last_price,omitempty"`
}

// Payload encodes the kind-specific diff for persistence in a
// ChangeEvent.
func (c Change) Payload() ([]byte, error) {
	var p EventPayload
	switch c.Kind {
	case ChangeNew:
		p.Title = c.Observed.Title
		p.Price = c.Observed.Price
		stock := c.Observed.Stock
		p.Stock = &stock
		p.URL = c.Observed.URL
	case ChangePriceChanged:
		p.Title = c.Observed.Title
		p.OldPrice = c.OldPrice
		p.NewPrice = c.NewPrice
		p.PercentChange = c.PercentChange
		p.URL = c.Observed.URL
		if c.OtherFieldsChanged {
			p.ChangedFields = c.ChangedFields
		}
	case ChangeEdited:
		p.Title = c.Observed.Title
		p.ChangedFields = c.ChangedFields
		p.URL = c.Observed.URL
	case ChangeRemoved:
		p.Title = c.Previous.Title
		p.LastPrice = c.Previous.Price
		p.URL = c.Previous.URL
	default:
		return nil, fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return json.Marshal(p)
}
