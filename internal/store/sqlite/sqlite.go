// Package sqlite implements the Record Store on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
//
// Timestamps are stored as microseconds since the Unix epoch. The pool
// is capped at one connection, which serializes writers and keeps
// in-memory databases usable for tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sellerwatch/sellerwatch/internal/model"
	"github.com/sellerwatch/sellerwatch/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	seller_id     TEXT NOT NULL,
	product_id    TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	price         REAL NOT NULL DEFAULT 0,
	stock         INTEGER NOT NULL DEFAULT -1,
	description   TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	image_url     TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	active        INTEGER NOT NULL DEFAULT 1,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	UNIQUE(seller_id, product_id)
);

CREATE TABLE IF NOT EXISTS price_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	seller_id      TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	old_price      REAL NOT NULL,
	new_price      REAL NOT NULL,
	percent_change REAL NOT NULL,
	changed_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS change_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	seller_id   TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	detected_at INTEGER NOT NULL,
	delivered   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id, active);
CREATE INDEX IF NOT EXISTS idx_history_product ON price_history(seller_id, product_id);
CREATE INDEX IF NOT EXISTS idx_events_undelivered ON change_events(delivered, seq);
`

// Store is a SQLite-backed Record Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer; also keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() {
	s.db.Close()
}

// GetActive returns the seller's current active records.
func (s *Store) GetActive(ctx context.Context, sellerID string) ([]model.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seller_id, product_id, title, price, stock, description,
		       category, image_url, url, active, first_seen_at, last_seen_at
		FROM products
		WHERE seller_id = ? AND active = 1
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

// ApplyChangeSet applies all changes in one transaction. Effects whose
// target state already matches the stored state are skipped, making
// replay of a previously-applied ChangeSet a no-op.
func (s *Store) ApplyChangeSet(ctx context.Context, cs model.ChangeSet) (store.ApplyResult, error) {
	var result store.ApplyResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, store.Unavailable("begin tx", err)
	}
	defer tx.Rollback()

	observedAt := cs.ObservedAt.UnixMicro()

	for _, c := range cs.Changes {
		applied, err := s.applyChange(ctx, tx, cs.SellerID, c, observedAt)
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

		id, err := s.appendEvent(ctx, tx, cs.SellerID, c, observedAt)
		if err != nil {
			return store.ApplyResult{}, err
		}
		result.EventIDs = append(result.EventIDs, id)
	}

	// Every product still present in the observation was seen this cycle.
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET last_seen_at = ?
		WHERE seller_id = ? AND active = 1 AND last_seen_at < ?`,
		observedAt, cs.SellerID, observedAt); err != nil {
		return store.ApplyResult{}, store.Unavailable("touch last_seen", err)
	}

	if err := tx.Commit(); err != nil {
		return store.ApplyResult{}, store.Unavailable("commit", err)
	}
	return result, nil
}

// applyChange applies one change. Returns false when the stored state
// already matches the target (replay no-op).
func (s *Store) applyChange(ctx context.Context, tx *sql.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	switch c.Kind {
	case model.ChangeNew:
		return s.applyNew(ctx, tx, sellerID, c, observedAt)
	case model.ChangePriceChanged, model.ChangeEdited:
		return s.applyUpdate(ctx, tx, sellerID, c, observedAt)
	case model.ChangeRemoved:
		return s.applyRemoval(ctx, tx, sellerID, c, observedAt)
	default:
		return false, &store.InvariantViolationError{
			SellerID:  sellerID,
			ProductID: c.ProductID,
			Detail:    fmt.Sprintf("unknown change kind %q", c.Kind),
		}
	}
}

func (s *Store) applyNew(ctx context.Context, tx *sql.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	existing, err := s.getRecord(ctx, tx, sellerID, c.ProductID)
	if err != nil {
		return false, err
	}
	obs := c.Observed

	if existing == nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (seller_id, product_id, title, price, stock,
				description, category, image_url, url, active, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			sellerID, c.ProductID, obs.Title, obs.Price, obs.Stock,
			obs.Description, obs.Category, obs.ImageURL, obs.URL, observedAt, observedAt)
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

	// Resurrection: reactivate the inactive row, preserving first_seen_at
	// and the product's price history.
	_, err = tx.ExecContext(ctx, `
		UPDATE products SET title = ?, price = ?, stock = ?, description = ?,
			category = ?, image_url = ?, url = ?, active = 1, last_seen_at = ?
		WHERE seller_id = ? AND product_id = ?`,
		obs.Title, obs.Price, obs.Stock, obs.Description,
		obs.Category, obs.ImageURL, obs.URL, observedAt,
		sellerID, c.ProductID)
	if err != nil {
		return false, store.Unavailable("reactivate product", err)
	}
	return true, nil
}

func (s *Store) applyUpdate(ctx context.Context, tx *sql.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	existing, err := s.getRecord(ctx, tx, sellerID, c.ProductID)
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
		// Replay guard: if the stored price already equals the target the
		// change was applied before; no second history row, no second event.
		if existing.Price == c.NewPrice {
			return false, nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (seller_id, product_id, old_price, new_price, percent_change, changed_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sellerID, c.ProductID, existing.Price, c.NewPrice,
			model.PercentChange(existing.Price, c.NewPrice), observedAt)
		if err != nil {
			return false, store.Unavailable("append price history", err)
		}
	} else if recordMatches(existing, obs) {
		return false, nil // edit already applied
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products SET title = ?, price = ?, stock = ?, description = ?,
			category = ?, image_url = ?, url = ?, last_seen_at = ?
		WHERE seller_id = ? AND product_id = ?`,
		obs.Title, obs.Price, obs.Stock, obs.Description,
		obs.Category, obs.ImageURL, obs.URL, observedAt,
		sellerID, c.ProductID)
	if err != nil {
		return false, store.Unavailable("update product", err)
	}
	return true, nil
}

func (s *Store) applyRemoval(ctx context.Context, tx *sql.Tx, sellerID string, c model.Change, observedAt int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE products SET active = 0, last_seen_at = ?
		WHERE seller_id = ? AND product_id = ? AND active = 1`,
		observedAt, sellerID, c.ProductID)
	if err != nil {
		return false, store.Unavailable("deactivate product", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Unavailable("deactivate product", err)
	}
	return n > 0, nil // already inactive or unknown: replay no-op
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, sellerID string, c model.Change, observedAt int64) (uuid.UUID, error) {
	payload, err := c.Payload()
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	id := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO change_events (id, seller_id, product_id, kind, payload, detected_at, delivered)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		id.String(), sellerID, c.ProductID, string(c.Kind), string(payload), observedAt)
	if err != nil {
		return uuid.Nil, store.Unavailable("append event", err)
	}
	return id, nil
}

// GetUndeliveredEvents returns undelivered events oldest first.
func (s *Store) GetUndeliveredEvents(ctx context.Context, sellerID string, olderThan time.Time) ([]model.ChangeEvent, error) {
	query := `
		SELECT id, seller_id, product_id, kind, payload, detected_at, delivered
		FROM change_events WHERE delivered = 0`
	var args []any
	if sellerID != "" {
		query += " AND seller_id = ?"
		args = append(args, sellerID)
	}
	if !olderThan.IsZero() {
		query += " AND detected_at <= ?"
		args = append(args, olderThan.UnixMicro())
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("get undelivered", err)
	}
	defer rows.Close()

	var events []model.ChangeEvent
	for rows.Next() {
		var (
			ev         model.ChangeEvent
			rawID      string
			kind       string
			payload    string
			detectedAt int64
		)
		if err := rows.Scan(&rawID, &ev.SellerID, &ev.ProductID, &kind, &payload, &detectedAt, &ev.Delivered); err != nil {
			return nil, store.Unavailable("scan event", err)
		}
		ev.ID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", rawID, err)
		}
		ev.Kind = model.ChangeKind(kind)
		ev.Payload = []byte(payload)
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE change_events SET delivered = 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT seller_id, product_id, old_price, new_price, percent_change, changed_at
		FROM price_history
		WHERE seller_id = ? AND product_id = ?
		ORDER BY id DESC LIMIT ?`, sellerID, productID, limit)
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
		       COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT seller_id)
		FROM products`
	var args []any
	if sellerID != "" {
		query += " WHERE seller_id = ?"
		args = append(args, sellerID)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.TotalProducts, &st.ActiveProducts, &st.Sellers); err != nil {
		return store.Stats{}, store.Unavailable("stats products", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour).UnixMicro()
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM change_events WHERE detected_at >= ?", midnight).Scan(&st.ChangesToday); err != nil {
		return store.Stats{}, store.Unavailable("stats changes", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM change_events WHERE delivered = 0").Scan(&st.UndeliveredEvents); err != nil {
		return store.Stats{}, store.Unavailable("stats undelivered", err)
	}
	return st, nil
}

// getRecord loads one record inside a transaction, nil if absent.
func (s *Store) getRecord(ctx context.Context, tx *sql.Tx, sellerID, productID string) (*model.ProductRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT seller_id, product_id, title, price, stock, description,
		       category, image_url, url, active, first_seen_at, last_seen_at
		FROM products WHERE seller_id = ? AND product_id = ?`, sellerID, productID)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
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

// recordMatches reports whether the stored record already equals the
// observed target state.
func recordMatches(r *model.ProductRecord, obs *model.RawProduct) bool {
	return r.Title == obs.Title &&
		r.Price == obs.Price &&
		r.Stock == obs.Stock &&
		r.Description == obs.Description &&
		r.Category == obs.Category &&
		r.ImageURL == obs.ImageURL &&
		r.URL == obs.URL
}
