// Package store defines the Record Store contract: durable persistence
// of per-seller product state, the append-only price history, and the
// append-only change-event log.
//
// Two implementations exist: store/sqlite (embedded, single process) and
// store/postgres (pgx pool, multi-instance). Both apply a ChangeSet in a
// single transaction and are idempotent under replay.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

// Store is the single shared mutable resource of the monitor. All
// mutation flows through ApplyChangeSet; callers serialize cycles per
// seller, so implementations only need transactional application.
type Store interface {
	// GetActive returns the current active snapshot for one seller.
	GetActive(ctx context.Context, sellerID string) ([]model.ProductRecord, error)

	// ApplyChangeSet applies all changes transactionally and appends one
	// undelivered ChangeEvent per effective change. Reapplying an
	// already-applied ChangeSet is a no-op: effects whose target state
	// already matches the stored state are skipped, so no duplicate
	// history rows or events are written.
	ApplyChangeSet(ctx context.Context, cs model.ChangeSet) (ApplyResult, error)

	// GetUndeliveredEvents returns events with Delivered=false, oldest
	// first. Empty sellerID means all sellers; a zero olderThan means no
	// age cutoff.
	GetUndeliveredEvents(ctx context.Context, sellerID string, olderThan time.Time) ([]model.ChangeEvent, error)

	// MarkDelivered flips the delivered flag for the given events.
	// Idempotent: already-delivered and unknown ids are no-ops.
	MarkDelivered(ctx context.Context, ids []uuid.UUID) error

	// PriceHistory returns the most recent price transitions for one
	// product, newest first.
	PriceHistory(ctx context.Context, sellerID, productID string, limit int) ([]model.PriceHistoryEntry, error)

	// Stats summarizes monitored state, optionally scoped to one seller.
	Stats(ctx context.Context, sellerID string) (Stats, error)

	// Close releases the underlying connections.
	Close()
}

// ApplyResult reports what ApplyChangeSet actually wrote. Counts cover
// effective changes only; replayed no-ops are excluded.
type ApplyResult struct {
	EventIDs    []uuid.UUID // Appended change events, in change order
	Inserted    int         // New active records
	PriceMoves  int         // Price updates with history rows
	Edited      int         // Field-only updates
	Deactivated int         // Records marked inactive
}

// Applied returns the total number of effective changes.
func (r ApplyResult) Applied() int {
	return r.Inserted + r.PriceMoves + r.Edited + r.Deactivated
}

// Stats summarizes the monitored state.
type Stats struct {
	TotalProducts     int
	ActiveProducts    int
	Sellers           int
	ChangesToday      int
	UndeliveredEvents int
}
