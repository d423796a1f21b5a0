package diff

import (
	"math"
	"sort"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

// DefaultPriceEpsilon is the minimum absolute price delta that counts as
// a price change. Deltas of exactly this size are treated as unchanged.
// Matches currency-minor-unit precision.
const DefaultPriceEpsilon = 0.01

// Options tunes diff classification.
type Options struct {
	// PriceEpsilon is the threshold above which a price delta becomes a
	// price change. Zero means DefaultPriceEpsilon.
	PriceEpsilon float64
}

func (o Options) epsilon() float64 {
	if o.PriceEpsilon == 0 {
		return DefaultPriceEpsilon
	}
	return o.PriceEpsilon
}

// Diff compares a seller's stored active records against one observation
// and returns the resulting ChangeSet.
//
// Classification, per product id:
//   - present in observed, absent or inactive in previous: new
//   - active in previous, absent from observed: removed
//   - present in both: price_changed when |old-new| > epsilon, else
//     edited when any non-price field differs, else omitted
//
// A record that is simultaneously price-changed and otherwise edited is
// classified price_changed with OtherFieldsChanged set; price is the
// primary signal.
//
// Duplicate product ids in observed resolve to the last occurrence.
func Diff(sellerID string, previous []model.ProductRecord, observed []model.RawProduct, observedAt time.Time, opts Options) model.ChangeSet {
	eps := opts.epsilon()

	prev := make(map[string]*model.ProductRecord, len(previous))
	for i := range previous {
		if previous[i].Active {
			prev[previous[i].ProductID] = &previous[i]
		}
	}

	// Last occurrence wins for duplicate ids, preserving first-seen
	// position so output order tracks the feed.
	order := make([]string, 0, len(observed))
	curr := make(map[string]*model.RawProduct, len(observed))
	for i := range observed {
		p := &observed[i]
		if p.ProductID == "" {
			continue
		}
		if _, seen := curr[p.ProductID]; !seen {
			order = append(order, p.ProductID)
		}
		curr[p.ProductID] = p
	}

	cs := model.ChangeSet{SellerID: sellerID, ObservedAt: observedAt}

	for _, id := range order {
		obs := curr[id]
		old, ok := prev[id]
		if !ok {
			cs.Changes = append(cs.Changes, model.Change{
				Kind:      model.ChangeNew,
				ProductID: id,
				Observed:  obs,
			})
			continue
		}

		fields := changedFields(old, obs)
		priceChanged := math.Abs(obs.Price-old.Price) > eps

		switch {
		case priceChanged:
			cs.Changes = append(cs.Changes, model.Change{
				Kind:               model.ChangePriceChanged,
				ProductID:          id,
				Observed:           obs,
				Previous:           old,
				OldPrice:           old.Price,
				NewPrice:           obs.Price,
				PercentChange:      model.PercentChange(old.Price, obs.Price),
				ChangedFields:      fields,
				OtherFieldsChanged: len(fields) > 0,
			})
		case len(fields) > 0:
			cs.Changes = append(cs.Changes, model.Change{
				Kind:          model.ChangeEdited,
				ProductID:     id,
				Observed:      obs,
				Previous:      old,
				ChangedFields: fields,
			})
		}
	}

	// Active records missing from the observation are removals. Map
	// iteration order is random; sort for deterministic output.
	var removed []string
	for id := range prev {
		if _, ok := curr[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		cs.Changes = append(cs.Changes, model.Change{
			Kind:      model.ChangeRemoved,
			ProductID: id,
			Previous:  prev[id],
		})
	}

	return cs
}

// changedFields returns the names of non-price fields that differ
// between the stored record and the observation.
func changedFields(old *model.ProductRecord, obs *model.RawProduct) []string {
	var fields []string
	if old.Title != obs.Title {
		fields = append(fields, "title")
	}
	if old.Stock != obs.Stock {
		fields = append(fields, "stock")
	}
	if old.Description != obs.Description {
		fields = append(fields, "description")
	}
	if old.Category != obs.Category {
		fields = append(fields, "category")
	}
	if old.ImageURL != obs.ImageURL {
		fields = append(fields, "image_url")
	}
	if old.URL != obs.URL {
		fields = append(fields, "url")
	}
	return fields
}
