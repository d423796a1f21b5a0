// Package postgres implements the Record Store on PostgreSQL via
// jackc/pgx. Suited to deployments where several processes share one
// authoritative database; the per-seller transaction in ApplyChangeSet
// carries the same idempotent replay semantics as the sqlite backend.
//
// Timestamps are stored as microseconds since the Unix epoch.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sellerwatch/sellerwatch/internal/model"
	"github.com/sellerwatch/sellerwatch/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	seller_id     TEXT NOT NULL,
	product_id    TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	price         DOUBLE PRECISION NOT NULL DEFAULT 0,
	stock         INTEGER NOT NULL DEFAULT -1,
	description   TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	image_url     TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	first_seen_at BIGINT NOT NULL,
	last_seen_at  BIGINT NOT NULL,
	PRIMARY KEY (seller_id, product_id)
);

CREATE TABLE IF NOT EXISTS price_history (
	id             BIGSERIAL PRIMARY KEY,
	seller_id      TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	old_price      DOUBLE PRECISION NOT NULL,
	new_price      DOUBLE PRECISION NOT NULL,
	percent_change DOUBLE PRECISION NOT NULL,
	changed_at     BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS change_events (
	seq         BIGSERIAL PRIMARY KEY,
	id          UUID NOT NULL UNIQUE,
	seller_id   TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	detected_at BIGINT NOT NULL,
	delivered   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id, active);
CREATE INDEX IF NOT EXISTS idx_history_product ON price_history(seller_id, product_id);
CREATE INDEX IF NOT EXISTS idx_events_undelivered ON change_events(delivered, seq);
`

// Store is a PostgreSQL-backed Record Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool and initializes the schema.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetActive returns the seller's current active records.
func (s *Store) GetActive(ctx context.Context, sellerID string) ([]model.ProductRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seller_id, product_id, title, price, stock, description,
		       category, image_url, url, active, first_seen_at, last_seen_at
		FROM products
		WHERE seller_id = $1 AND active
		ORDER BY product_id`, sellerID)
	if err != nil {
		return nil, store.Unavailable("get active", err)
	}
	defer rows.Close()

	var records []model.ProductRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, store.Unavailable("scan product", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("get active", err)
	}
	return records, nil
}

// ApplyChangeSet applies all changes in one transaction with the same
// replay semantics as the sqlite backend.
func (s *Store) ApplyChangeSet(ctx context.Context, cs model.ChangeSet) (store.ApplyResult, error) {
	var result store.ApplyResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, store.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx)

	observedAt := cs.ObservedAt.UnixMicro()

	for _, c := range cs.Changes {
		applied, err := applyChange(ctx, tx, cs.SellerID, c, observedAt)
		if err != nil {
			return store.ApplyResult{}, err
		}
		if !applied {
			continue
		}

		switch c.Kind {
		case model.ChangeNew:
			result.Inserted++
		case model.ChangePriceChanged:
			result.PriceMoves++
		case model.ChangeEdited:
			result.Edited++
		case model.ChangeRemoved:
			result.Deactivated++
		}

		id, err := appendEvent(ctx, tx, cs.SellerID, c, observedAt)
		if err != nil {
			return store.ApplyResult{}, err
		}
		result.EventIDs = append(result.EventIDs, id)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products SET last_seen_at = $1
		WHERE seller_id = $2 AND active AND last_seen_at < $1`,
		observedAt, cs.SellerID); err != nil {
		return store.ApplyResult{}, store.Unavailable("touch last_seen", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.ApplyResult{}, store.Unavailable("commit", err)
	}
	return result, nil
}

func applyChange(ctx context.Context, tx pgx.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	switch c.Kind {
	case model.ChangeNew:
		return applyNew(ctx, tx, sellerID, c, observedAt)
	case model.ChangePriceChanged, model.ChangeEdited:
		return applyUpdate(ctx, tx, sellerID, c, observedAt)
	case model.ChangeRemoved:
		return applyRemoval(ctx, tx, sellerID, c, observedAt)
	default:
		return false, &store.InvariantViolationError{
			SellerID:  sellerID,
			ProductID: c.ProductID,
			Detail:    fmt.Sprintf("unknown change kind %q", c.Kind),
		}
	}
}

func applyNew(ctx context.Context, tx pgx.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	existing, err := getRecord(ctx, tx, sellerID, c.ProductID)
	if err != nil {
		return false, err
	}
	obs := c.Observed

	if existing == nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO products (seller_id, product_id, title, price, stock,
				description, category, image_url, url, active, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $10)`,
			sellerID, c.ProductID, obs.Title, obs.Price, obs.Stock,
			obs.Description, obs.Category, obs.ImageURL, obs.URL, observedAt)
		if err != nil {
			return false, store.Unavailable("insert product", err)
		}
		return true, nil
	}

	if existing.Active {
		if recordMatches(existing, obs) {
			return false, nil // already applied
		}
		return false, &store.InvariantViolationError{
			SellerID:  sellerID,
			ProductID: c.ProductID,
			Detail:    "duplicate active record with conflicting fields on insert",
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET title = $1, price = $2, stock = $3, description = $4,
			category = $5, image_url = $6, url = $7, active = TRUE, last_seen_at = $8
		WHERE seller_id = $9 AND product_id = $10`,
		obs.Title, obs.Price, obs.Stock, obs.Description,
		obs.Category, obs.ImageURL, obs.URL, observedAt,
		sellerID, c.ProductID)
	if err != nil {
		return false, store.Unavailable("reactivate product", err)
	}
	return true, nil
}

func applyUpdate(ctx context.Context, tx pgx.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	existing, err := getRecord(ctx, tx, sellerID, c.ProductID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, &store.InvariantViolationError{
			SellerID:  sellerID,
			ProductID: c.ProductID,
			Detail:    "update target does not exist",
		}
	}
	obs := c.Observed

	if c.Kind == model.ChangePriceChanged {
		if existing.Price == c.NewPrice {
			return false, nil // replay: already at target price
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO price_history (seller_id, product_id, old_price, new_price, percent_change, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sellerID, c.ProductID, existing.Price, c.NewPrice,
			model.PercentChange(existing.Price, c.NewPrice), observedAt)
		if err != nil {
			return false, store.Unavailable("append price history", err)
		}
	} else if recordMatches(existing, obs) {
		return false, nil // edit already applied
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET title = $1, price = $2, stock = $3, description = $4,
			category = $5, image_url = $6, url = $7, last_seen_at = $8
		WHERE seller_id = $9 AND product_id = $10`,
		obs.Title, obs.Price, obs.Stock, obs.Description,
		obs.Category, obs.ImageURL, obs.URL, observedAt,
		sellerID, c.ProductID)
	if err != nil {
		return false, store.Unavailable("update product", err)
	}
	return true, nil
}

func applyRemoval(ctx context.Context, tx pgx.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE products SET active = FALSE, last_seen_at = $1
		WHERE seller_id = $2 AND product_id = $3 AND active`,
		observedAt, sellerID, c.ProductID)
	if err != nil {
		return false, store.Unavailable("deactivate product", err)
	}
	return ct.RowsAffected() > 0, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, sellerID string, c model.Change, observedAt int64) (uuid.UUID, error) {
	payload, err := c.Payload()
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO change_events (id, seller_id, product_id, kind, payload, detected_at, delivered)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		id, sellerID, c.ProductID, string(c.Kind), payload, observedAt)
	if err != nil {
		return uuid.Nil, store.Unavailable("append event", err)
	}
	return id, nil
}

// GetUndeliveredEvents returns undelivered events oldest first.
func (s *Store) GetUndeliveredEvents(ctx context.Context, sellerID string, olderThan time.Time) ([]model.ChangeEvent, error) {
	query := `
		SELECT id, seller_id, product_id, kind, payload, detected_at, delivered
		FROM change_events WHERE NOT delivered`
	var args []any
	if sellerID != "" {
		args = append(args, sellerID)
		query += fmt.Sprintf(" AND seller_id = $%d", len(args))
	}
	if !olderThan.IsZero() {
		args = append(args, olderThan.UnixMicro())
		query += fmt.Sprintf(" AND detected_at <= $%d", len(args))
	}
	query += " ORDER BY seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("get undelivered", err)
	}
	defer rows.Close()

	var events []model.ChangeEvent
	for rows.Next() {
		var (
			ev         model.ChangeEvent
			kind       string
			detectedAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.SellerID, &ev.ProductID, &kind, &ev.Payload, &detectedAt, &ev.Delivered); err != nil {
			return nil, store.Unavailable("scan event", err)
		}
		ev.Kind = model.ChangeKind(kind)
		ev.DetectedAt = time.UnixMicro(detectedAt).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("get undelivered", err)
	}
	return events, nil
}

// MarkDelivered flips the delivered flag. Unknown ids are no-ops.
func (s *Store) MarkDelivered(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		"UPDATE change_events SET delivered = TRUE WHERE id = ANY($1)", ids); err != nil {
		return store.Unavailable("mark delivered", err)
	}
	return nil
}

// PriceHistory returns up to limit transitions for one product, newest
// first.
func (s *Store) PriceHistory(ctx context.Context, sellerID, productID string, limit int) ([]model.PriceHistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seller_id, product_id, old_price, new_price, percent_change, changed_at
		FROM price_history
		WHERE seller_id = $1 AND product_id = $2
		ORDER BY id DESC LIMIT $3`, sellerID, productID, limit)
	if err != nil {
		return nil, store.Unavailable("price history", err)
	}
	defer rows.Close()

	var entries []model.PriceHistoryEntry
	for rows.Next() {
		var (
			e         model.PriceHistoryEntry
			changedAt int64
		)
		if err := rows.Scan(&e.SellerID, &e.ProductID, &e.OldPrice, &e.NewPrice, &e.PercentChange, &changedAt); err != nil {
			return nil, store.Unavailable("scan history", err)
		}
		e.ChangedAt = time.UnixMicro(changedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("price history", err)
	}
	return entries, nil
}

// Stats summarizes monitored state. Empty sellerID covers all sellers.
func (s *Store) Stats(ctx context.Context, sellerID string) (store.Stats, error) {
	var st store.Stats

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT seller_id)
		FROM products`
	var args []any
	if sellerID != "" {
		query += " WHERE seller_id = $1"
		args = append(args, sellerID)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&st.TotalProducts, &st.ActiveProducts, &st.Sellers); err != nil {
		return store.Stats{}, store.Unavailable("stats products", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour).UnixMicro()
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM change_events WHERE detected_at >= $1", midnight).Scan(&st.ChangesToday); err != nil {
		return store.Stats{}, store.Unavailable("stats changes", err)
	}
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM change_events WHERE NOT delivered").Scan(&st.UndeliveredEvents); err != nil {
		return store.Stats{}, store.Unavailable("stats undelivered", err)
	}
	return st, nil
}

func getRecord(ctx context.Context, tx pgx.Tx, sellerID, productID string) (*model.ProductRecord, error) {
	rows := tx.QueryRow(ctx, `
		SELECT seller_id, product_id, title, price, stock, description,
		       category, image_url, url, active, first_seen_at, last_seen_at
		FROM products WHERE seller_id = $1 AND product_id = $2`, sellerID, productID)

	r, err := scanRecord(rows)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Unavailable("get product", err)
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.ProductRecord, error) {
	var (
		r         model.ProductRecord
		firstSeen int64
		lastSeen  int64
	)
	err := row.Scan(&r.SellerID, &r.ProductID, &r.Title, &r.Price, &r.Stock,
		&r.Description, &r.Category, &r.ImageURL, &r.URL, &r.Active, &firstSeen, &lastSeen)
	if err != nil {
		return model.ProductRecord{}, err
	}
	r.FirstSeenAt = time.UnixMicro(firstSeen).UTC()
	r.LastSeenAt = time.UnixMicro(lastSeen).UTC()
	return r, nil
}

func recordMatches(r *model.ProductRecord, obs *model.RawProduct) bool {
	return r.Title == obs.Title &&
		r.Price == obs.Price &&
		r.Stock == obs.Stock &&
		r.Description == obs.Description &&
		r.Category == obs.Category &&
		r.ImageURL == obs.ImageURL &&
		r.URL == obs.URL
}
