package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sellerwatch/sellerwatch/internal/model"
	"github.com/sellerwatch/sellerwatch/internal/store"
)

// fakeStore implements store.Store with an in-memory event queue.
type fakeStore struct {
	events      []model.ChangeEvent
	applyResult store.ApplyResult
	applyErr    error
	markErr     error
	marked      []uuid.UUID
}

func (f *fakeStore) GetActive(ctx context.Context, sellerID string) ([]model.ProductRecord, error) {
	return nil, nil
}

func (f *fakeStore) ApplyChangeSet(ctx context.Context, cs model.ChangeSet) (store.ApplyResult, error) {
	return f.applyResult, f.applyErr
}

func (f *fakeStore) GetUndeliveredEvents(ctx context.Context, sellerID string, olderThan time.Time) ([]model.ChangeEvent, error) {
	var out []model.ChangeEvent
	for _, ev := range f.events {
		if ev.Delivered {
			continue
		}
		if sellerID != "" && ev.SellerID != sellerID {
			continue
		}
		if !olderThan.IsZero() && ev.DetectedAt.After(olderThan) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeStore) MarkDelivered(ctx context.Context, ids []uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, ids...)
	for _, id := range ids {
		for i := range f.events {
			if f.events[i].ID == id {
				f.events[i].Delivered = true
			}
		}
	}
	return nil
}

func (f *fakeStore) PriceHistory(ctx context.Context, sellerID, productID string, limit int) ([]model.PriceHistoryEntry, error) {
	return nil, nil
}

func (f *fakeStore) Stats(ctx context.Context, sellerID string) (store.Stats, error) {
	return store.Stats{}, nil
}

func (f *fakeStore) Close() {}

type recordingSink struct {
	delivered []model.ChangeEvent
	failKinds map[model.ChangeKind]bool
}

func (s *recordingSink) Deliver(ctx context.Context, ev model.ChangeEvent) error {
	if s.failKinds[ev.Kind] {
		return errors.New("sink down")
	}
	s.delivered = append(s.delivered, ev)
	return nil
}

func event(seller string, kind model.ChangeKind, age time.Duration) model.ChangeEvent {
	return model.ChangeEvent{
		ID:         uuid.New(),
		SellerID:   seller,
		ProductID:  "p-1",
		Kind:       kind,
		Payload:    []byte(`{}`),
		DetectedAt: time.Now().Add(-age),
	}
}

func TestProcessDeliversAndMarks(t *testing.T) {
	st := &fakeStore{
		applyResult: store.ApplyResult{Inserted: 1, PriceMoves: 1},
		events: []model.ChangeEvent{
			event("alice", model.ChangeNew, 0),
			event("alice", model.ChangePriceChanged, 0),
			event("bob", model.ChangeNew, 0),
		},
	}
	sink := &recordingSink{}
	d := New(st, sink, nil)

	cs := model.ChangeSet{SellerID: "alice", ObservedAt: time.Now()}
	res, err := d.Process(context.Background(), cs)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", res.Delivered)
	}
	if res.Applied.Inserted != 1 || res.Applied.PriceMoves != 1 {
		t.Errorf("Applied = %+v", res.Applied)
	}
	if len(sink.delivered) != 2 {
		t.Fatalf("sink delivered %d events, want 2", len(sink.delivered))
	}
	for _, ev := range sink.delivered {
		if ev.SellerID != "alice" {
			t.Errorf("delivered event for %q, want alice only", ev.SellerID)
		}
	}
	if len(st.marked) != 2 {
		t.Errorf("marked %d events, want 2", len(st.marked))
	}
}

func TestProcessFailedDeliveryStaysUndelivered(t *testing.T) {
	st := &fakeStore{
		events: []model.ChangeEvent{
			event("alice", model.ChangeNew, 0),
			event("alice", model.ChangeRemoved, 0),
		},
	}
	sink := &recordingSink{failKinds: map[model.ChangeKind]bool{model.ChangeRemoved: true}}
	d := New(st, sink, nil)

	res, err := d.Process(context.Background(), model.ChangeSet{SellerID: "alice"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Delivered != 1 || res.Failed != 1 {
		t.Errorf("Delivered = %d, Failed = %d, want 1, 1", res.Delivered, res.Failed)
	}

	remaining, _ := st.GetUndeliveredEvents(context.Background(), "alice", time.Time{})
	if len(remaining) != 1 {
		t.Fatalf("remaining undelivered = %d, want 1", len(remaining))
	}
	if remaining[0].Kind != model.ChangeRemoved {
		t.Errorf("remaining kind = %v, want removed", remaining[0].Kind)
	}
}

func TestProcessSuppressedKindsMarkedWithoutSend(t *testing.T) {
	st := &fakeStore{
		events: []model.ChangeEvent{
			event("alice", model.ChangeNew, 0),
			event("alice", model.ChangeEdited, 0),
		},
	}
	sink := &recordingSink{}
	prefs := map[string]Preferences{
		"alice": {New: true}, // edits suppressed
	}
	d := New(st, sink, nil, WithPreferences(prefs))

	res, err := d.Process(context.Background(), model.ChangeSet{SellerID: "alice"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Delivered != 1 || res.Suppressed != 1 {
		t.Errorf("Delivered = %d, Suppressed = %d, want 1, 1", res.Delivered, res.Suppressed)
	}
	if len(sink.delivered) != 1 || sink.delivered[0].Kind != model.ChangeNew {
		t.Errorf("sink received %v", sink.delivered)
	}

	// Suppressed event must not linger for the sweeper.
	remaining, _ := st.GetUndeliveredEvents(context.Background(), "alice", time.Time{})
	if len(remaining) != 0 {
		t.Errorf("remaining undelivered = %d, want 0", len(remaining))
	}
}

func TestProcessApplyErrorPropagates(t *testing.T) {
	applyErr := &store.InvariantViolationError{SellerID: "alice", ProductID: "p-1", Detail: "conflict"}
	st := &fakeStore{applyErr: applyErr}
	d := New(st, &recordingSink{}, nil)

	_, err := d.Process(context.Background(), model.ChangeSet{SellerID: "alice"})
	if !store.IsInvariantViolation(err) {
		t.Errorf("Process() error = %v, want invariant violation", err)
	}
}

type countingPublisher struct {
	calls int
	err   error
}

func (p *countingPublisher) Publish(ctx context.Context, ev model.ChangeEvent) error {
	p.calls++
	return p.err
}

func TestPublisherFailureDoesNotBlockDelivery(t *testing.T) {
	st := &fakeStore{
		events: []model.ChangeEvent{event("alice", model.ChangeNew, 0)},
	}
	pub := &countingPublisher{err: errors.New("offers api down")}
	d := New(st, &recordingSink{}, nil, WithPublisher(pub))

	res, err := d.Process(context.Background(), model.ChangeSet{SellerID: "alice"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", res.Delivered)
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", pub.calls)
	}
	if len(st.marked) != 1 {
		t.Errorf("marked = %d, want 1", len(st.marked))
	}
}

func TestSweepRespectsMinAge(t *testing.T) {
	st := &fakeStore{
		events: []model.ChangeEvent{
			event("alice", model.ChangeNew, 10*time.Minute), // old enough
			event("alice", model.ChangeNew, 0),              // too fresh
		},
	}
	sink := &recordingSink{}
	d := New(st, sink, nil)
	s := NewSweeper(SweeperConfig{Interval: time.Hour, MinAge: 2 * time.Minute}, d, nil)

	s.Sweep(context.Background())

	if len(sink.delivered) != 1 {
		t.Fatalf("sink delivered %d events, want 1", len(sink.delivered))
	}
	remaining, _ := st.GetUndeliveredEvents(context.Background(), "", time.Time{})
	if len(remaining) != 1 {
		t.Errorf("remaining undelivered = %d, want 1", len(remaining))
	}
}

func TestSweeperStartStop(t *testing.T) {
	st := &fakeStore{}
	d := New(st, &recordingSink{}, nil)
	s := NewSweeper(DefaultSweeperConfig(), d, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
