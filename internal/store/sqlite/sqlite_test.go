package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sellerwatch/sellerwatch/internal/model"
	"github.com/sellerwatch/sellerwatch/internal/store"
)

var obsTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newChange(id string, price float64) model.Change {
	return model.Change{
		Kind:      model.ChangeNew,
		ProductID: id,
		Observed: &model.RawProduct{
			ProductID: id,
			Title:     "title-" + id,
			Price:     price,
			Stock:     5,
			Category:  "Currency",
			URL:       "https://example.test/listings/" + id,
		},
	}
}

func seed(t *testing.T, s *Store, seller string, changes ...model.Change) store.ApplyResult {
	t.Helper()
	res, err := s.ApplyChangeSet(context.Background(), model.ChangeSet{
		SellerID:   seller,
		ObservedAt: obsTime,
		Changes:    changes,
	})
	if err != nil {
		t.Fatalf("ApplyChangeSet() error = %v", err)
	}
	return res
}

func TestApplyChangeSet_InsertAndFetch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := seed(t, s, "alayon", newChange("A", 10), newChange("B", 5))

	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", res.Inserted)
	}
	if len(res.EventIDs) != 2 {
		t.Errorf("EventIDs = %d, want 2", len(res.EventIDs))
	}

	active, err := s.GetActive(ctx, "alayon")
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].ProductID != "A" || active[0].Price != 10 {
		t.Errorf("record = %+v, want A at 10", active[0])
	}
	if !active[0].FirstSeenAt.Equal(obsTime) {
		t.Errorf("FirstSeenAt = %v, want %v", active[0].FirstSeenAt, obsTime)
	}
}

func TestApplyChangeSet_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed(t, s, "alayon", newChange("A", 10))

	priceChange := model.Change{
		Kind:      model.ChangePriceChanged,
		ProductID: "A",
		Observed: &model.RawProduct{
			ProductID: "A", Title: "title-A", Price: 8, Stock: 5,
			Category: "Currency", URL: "https://example.test/listings/A",
		},
		OldPrice: 10,
		NewPrice: 8,
	}
	cs := model.ChangeSet{SellerID: "alayon", ObservedAt: obsTime.Add(time.Hour), Changes: []model.Change{priceChange}}

	first, err := s.ApplyChangeSet(ctx, cs)
	if err != nil {
		t.Fatalf("first apply error = %v", err)
	}
	if first.PriceMoves != 1 || len(first.EventIDs) != 1 {
		t.Fatalf("first apply = %+v, want one price move and one event", first)
	}

	// Reapplying the identical ChangeSet must write nothing.
	second, err := s.ApplyChangeSet(ctx, cs)
	if err != nil {
		t.Fatalf("second apply error = %v", err)
	}
	if second.Applied() != 0 || len(second.EventIDs) != 0 {
		t.Errorf("second apply = %+v, want no effects", second)
	}

	history, err := s.PriceHistory(ctx, "alayon", "A", 10)
	if err != nil {
		t.Fatalf("PriceHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history rows = %d, want 1", len(history))
	}
	if history[0].OldPrice != 10 || history[0].NewPrice != 8 || history[0].PercentChange != -20 {
		t.Errorf("history = %+v, want 10 -> 8 (-20%%)", history[0])
	}

	events, err := s.GetUndeliveredEvents(ctx, "alayon", time.Time{})
	if err != nil {
		t.Fatalf("GetUndeliveredEvents() error = %v", err)
	}
	// One new event plus one price event, no duplicates.
	if len(events) != 2 {
		t.Errorf("undelivered = %d, want 2", len(events))
	}
}

func TestApplyChangeSet_DuplicateActiveInsertConflict(t *testing.T) {
	s := openTestStore(t)

	seed(t, s, "alayon", newChange("A", 10))

	conflicting := newChange("A", 99) // same id, different fields
	_, err := s.ApplyChangeSet(context.Background(), model.ChangeSet{
		SellerID:   "alayon",
		ObservedAt: obsTime.Add(time.Hour),
		Changes:    []model.Change{conflicting},
	})
	if !store.IsInvariantViolation(err) {
		t.Fatalf("err = %v, want invariant violation", err)
	}

	// The failed ChangeSet must leave prior state untouched.
	active, err := s.GetActive(context.Background(), "alayon")
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if len(active) != 1 || active[0].Price != 10 {
		t.Errorf("active = %+v, want single record at 10", active)
	}
}

func TestApplyChangeSet_RemovalAndResurrection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed(t, s, "alayon", newChange("A", 10))

	prev := model.ProductRecord{SellerID: "alayon", ProductID: "A", Title: "title-A", Price: 10, Active: true}
	removal := model.Change{Kind: model.ChangeRemoved, ProductID: "A", Previous: &prev}
	res := seed(t, s, "alayon", removal)
	if res.Deactivated != 1 {
		t.Fatalf("Deactivated = %d, want 1", res.Deactivated)
	}

	active, _ := s.GetActive(ctx, "alayon")
	if len(active) != 0 {
		t.Fatalf("active after removal = %d, want 0", len(active))
	}

	// Replaying the removal is a no-op.
	res = seed(t, s, "alayon", removal)
	if res.Applied() != 0 {
		t.Errorf("replayed removal applied = %d, want 0", res.Applied())
	}

	// Re-adding the same id reactivates the row but keeps its history.
	res = seed(t, s, "alayon", newChange("A", 12))
	if res.Inserted != 1 {
		t.Fatalf("Inserted = %d, want 1", res.Inserted)
	}
	active, _ = s.GetActive(ctx, "alayon")
	if len(active) != 1 {
		t.Fatalf("active after resurrection = %d, want 1", len(active))
	}
	if !active[0].FirstSeenAt.Equal(obsTime) {
		t.Errorf("FirstSeenAt = %v, want original %v", active[0].FirstSeenAt, obsTime)
	}
	if active[0].Price != 12 {
		t.Errorf("Price = %v, want 12", active[0].Price)
	}
}

func TestGetUndeliveredEvents_OrderAndFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed(t, s, "alayon", newChange("A", 10))
	later, err := s.ApplyChangeSet(ctx, model.ChangeSet{
		SellerID:   "ragnar",
		ObservedAt: obsTime.Add(2 * time.Hour),
		Changes:    []model.Change{newChange("X", 1)},
	})
	if err != nil {
		t.Fatalf("ApplyChangeSet() error = %v", err)
	}

	all, err := s.GetUndeliveredEvents(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("GetUndeliveredEvents() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
	if !all[0].DetectedAt.Before(all[1].DetectedAt) {
		t.Errorf("events not oldest-first: %v then %v", all[0].DetectedAt, all[1].DetectedAt)
	}

	scoped, err := s.GetUndeliveredEvents(ctx, "ragnar", time.Time{})
	if err != nil {
		t.Fatalf("GetUndeliveredEvents(ragnar) error = %v", err)
	}
	if len(scoped) != 1 || scoped[0].SellerID != "ragnar" {
		t.Errorf("scoped = %+v, want single ragnar event", scoped)
	}

	aged, err := s.GetUndeliveredEvents(ctx, "", obsTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetUndeliveredEvents(olderThan) error = %v", err)
	}
	if len(aged) != 1 || aged[0].SellerID != "alayon" {
		t.Errorf("aged = %+v, want only the older alayon event", aged)
	}

	// Marking delivered removes events from the undelivered view;
	// marking again or marking unknown ids is a no-op.
	if err := s.MarkDelivered(ctx, later.EventIDs); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	if err := s.MarkDelivered(ctx, append(later.EventIDs, uuid.New())); err != nil {
		t.Fatalf("MarkDelivered(repeat) error = %v", err)
	}
	remaining, _ := s.GetUndeliveredEvents(ctx, "", time.Time{})
	if len(remaining) != 1 {
		t.Errorf("remaining = %d, want 1", len(remaining))
	}
}

func TestDeliveryDurability_AcrossReopen(t *testing.T) {
	// A commit without MarkDelivered must leave the event retrievable
	// after the process restarts.
	path := filepath.Join(t.TempDir(), "monitor.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	seed(t, s, "alayon", newChange("A", 10))
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	events, err := reopened.GetUndeliveredEvents(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("GetUndeliveredEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("undelivered after restart = %d, want 1", len(events))
	}
	if events[0].Kind != model.ChangeNew || events[0].ProductID != "A" {
		t.Errorf("event = %+v, want new/A", events[0])
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := s.ApplyChangeSet(ctx, model.ChangeSet{
		SellerID:   "alayon",
		ObservedAt: now,
		Changes:    []model.Change{newChange("A", 10), newChange("B", 5)},
	})
	if err != nil {
		t.Fatalf("ApplyChangeSet() error = %v", err)
	}

	prev := model.ProductRecord{SellerID: "alayon", ProductID: "B", Title: "title-B", Price: 5, Active: true}
	_, err = s.ApplyChangeSet(ctx, model.ChangeSet{
		SellerID:   "alayon",
		ObservedAt: now.Add(time.Minute),
		Changes:    []model.Change{{Kind: model.ChangeRemoved, ProductID: "B", Previous: &prev}},
	})
	if err != nil {
		t.Fatalf("ApplyChangeSet() error = %v", err)
	}

	st, err := s.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.TotalProducts != 2 {
		t.Errorf("TotalProducts = %d, want 2", st.TotalProducts)
	}
	if st.ActiveProducts != 1 {
		t.Errorf("ActiveProducts = %d, want 1", st.ActiveProducts)
	}
	if st.Sellers != 1 {
		t.Errorf("Sellers = %d, want 1", st.Sellers)
	}
	if st.ChangesToday != 3 {
		t.Errorf("ChangesToday = %d, want 3", st.ChangesToday)
	}
	if st.UndeliveredEvents != 3 {
		t.Errorf("UndeliveredEvents = %d, want 3", st.UndeliveredEvents)
	}
}
