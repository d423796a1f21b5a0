package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sellerwatch/sellerwatch/internal/model"
	"github.com/sellerwatch/sellerwatch/internal/store"
)

// Sink delivers a change event to its destination. A nil return marks
// the event delivered; an error leaves it undelivered for retry.
type Sink interface {
	Deliver(ctx context.Context, ev model.ChangeEvent) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(context.Context, model.ChangeEvent) error

func (f SinkFunc) Deliver(ctx context.Context, ev model.ChangeEvent) error {
	return f(ctx, ev)
}

// Publisher forwards catalog changes to the offers API. Forwarding is
// best effort and never blocks event delivery.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// Observer receives delivered events, e.g. for live streaming.
type Observer interface {
	Observe(ev model.ChangeEvent)
}

// Preferences selects which change kinds a seller wants notifications
// for. Suppressed kinds are still persisted; their events are marked
// delivered without reaching the sink.
type Preferences struct {
	New         bool
	PriceChange bool
	Edit        bool
	Removed     bool
}

// AllKinds enables every change kind.
func AllKinds() Preferences {
	return Preferences{New: true, PriceChange: true, Edit: true, Removed: true}
}

func (p Preferences) allows(kind model.ChangeKind) bool {
	switch kind {
	case model.ChangeNew:
		return p.New
	case model.ChangePriceChanged:
		return p.PriceChange
	case model.ChangeEdited:
		return p.Edit
	case model.ChangeRemoved:
		return p.Removed
	}
	return false
}

// Result summarizes one Process call.
type Result struct {
	Applied    store.ApplyResult
	Delivered  int
	Suppressed int
	Failed     int
}

// Dispatcher persists change sets and delivers their events.
type Dispatcher struct {
	store     store.Store
	sink      Sink
	publisher Publisher
	observer  Observer
	prefs     map[string]Preferences
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher forwards events to the offers API after delivery.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithObserver attaches a delivered-event observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithPreferences sets per-seller notification preferences. Sellers
// absent from the map receive all kinds.
func WithPreferences(prefs map[string]Preferences) Option {
	return func(d *Dispatcher) { d.prefs = prefs }
}

// New creates a Dispatcher.
func New(st store.Store, sink Sink, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:  st,
		sink:   sink,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process applies the change set and delivers the seller's pending
// events. Delivery failures are not errors: the events stay
// undelivered and the sweeper retries them.
func (d *Dispatcher) Process(ctx context.Context, cs model.ChangeSet) (Result, error) {
	applied, err := d.store.ApplyChangeSet(ctx, cs)
	if err != nil {
		return Result{}, fmt.Errorf("apply change set: %w", err)
	}

	delivered, suppressed, failed, err := d.DeliverPending(ctx, cs.SellerID, time.Time{})
	if err != nil {
		return Result{Applied: applied}, err
	}

	return Result{
		Applied:    applied,
		Delivered:  delivered,
		Suppressed: suppressed,
		Failed:     failed,
	}, nil
}

// DeliverPending pushes undelivered events through the sink, oldest
// first. Empty sellerID covers all sellers; a zero olderThan applies
// no age cutoff. Events of suppressed kinds are marked delivered
// without a sink call. Returns counts of delivered, suppressed and
// failed events; the error is non-nil only for store failures.
func (d *Dispatcher) DeliverPending(ctx context.Context, sellerID string, olderThan time.Time) (delivered, suppressed, failed int, err error) {
	events, err := d.store.GetUndeliveredEvents(ctx, sellerID, olderThan)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load undelivered events: %w", err)
	}
	if len(events) == 0 {
		return 0, 0, 0, nil
	}

	var done []uuid.UUID
	for _, ev := range events {
		prefs, ok := d.prefs[ev.SellerID]
		if ok && !prefs.allows(ev.Kind) {
			done = append(done, ev.ID)
			suppressed++
			continue
		}

		if err := d.sink.Deliver(ctx, ev); err != nil {
			d.logger.Warn("event delivery failed",
				"event_id", ev.ID,
				"seller", ev.SellerID,
				"kind", ev.Kind,
				"err", err,
			)
			failed++
			continue
		}

		done = append(done, ev.ID)
		delivered++

		if d.publisher != nil {
			if err := d.publisher.Publish(ctx, ev); err != nil {
				d.logger.Warn("offer publish failed",
					"event_id", ev.ID,
					"seller", ev.SellerID,
					"err", err,
				)
			}
		}
		if d.observer != nil {
			d.observer.Observe(ev)
		}
	}

	if len(done) > 0 {
		if err := d.store.MarkDelivered(ctx, done); err != nil {
			// Events stay undelivered and will be resent; delivery is
			// at-least-once, so duplicates are acceptable.
			return delivered, suppressed, failed, fmt.Errorf("mark delivered: %w", err)
		}
	}
	return delivered, suppressed, failed, nil
}
