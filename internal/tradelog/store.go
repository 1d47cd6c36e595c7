package tradelog

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/gw/options-chain/internal/orders"
)

// Store is the order journal. The service only appends to it.
type Store struct {
	db *sql.DB

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ orders.EventSink = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &Store{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID(t time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// RecordOrderEvent upserts the order row and appends the event.
func (s *Store) RecordOrderEvent(ctx context.Context, ev orders.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := ev.Time.UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, parent_id, kind, symbol, expiry, strike, opt_right, action,
			quantity, order_type, limit_price, status, filled, remaining, created_time, updated_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status,
			filled = excluded.filled,
			remaining = excluded.remaining,
			updated_time = excluded.updated_time`,
		ev.OrderID, ev.ParentID, string(ev.Kind), ev.Symbol, ev.Expiry, ev.Strike.String(), ev.Right,
		ev.Action, ev.Quantity, ev.OrderType, ev.LimitPrice.String(), string(ev.Status),
		ev.Filled, ev.Remaining, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upsert order %d: %w", ev.OrderID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_events (event_id, order_id, status, filled, remaining, event_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.newID(ts), ev.OrderID, string(ev.Status), ev.Filled, ev.Remaining, ts,
	)
	if err != nil {
		return fmt.Errorf("insert event for %d: %w", ev.OrderID, err)
	}
	return tx.Commit()
}

func (s *Store) RecentOrders(ctx context.Context, limit int) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, parent_id, kind, symbol, expiry, strike, opt_right, action, quantity,
			order_type, limit_price, status, filled, remaining, created_time, updated_time
		FROM orders ORDER BY order_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []OrderRow
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.OrderID, &o.ParentID, &o.Kind, &o.Symbol, &o.Expiry, &o.Strike,
			&o.Right, &o.Action, &o.Quantity, &o.OrderType, &o.LimitPrice, &o.Status,
			&o.Filled, &o.Remaining, &o.CreatedTime, &o.UpdatedTime); err != nil {
			return nil, err
		}
		results = append(results, o)
	}
	return results, rows.Err()
}

func (s *Store) OrderEvents(ctx context.Context, orderID int64) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, order_id, status, filled, remaining, event_time
		FROM order_events WHERE order_id = ? ORDER BY event_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.EventID, &e.OrderID, &e.Status, &e.Filled, &e.Remaining, &e.EventTime); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) StatusSummary(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, orders, contracts, last_update FROM v_status_summary`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Orders, &c.Contracts, &c.LastUpdate); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
