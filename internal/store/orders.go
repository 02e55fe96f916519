package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// UpsertOrder inserts or replaces an order wholesale, mirroring
// SyncDriver's orders feed.
func (s *Store) UpsertOrder(ctx context.Context, o domain.Order) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO orders (order_id, state, total, currency, payload, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			state = excluded.state,
			total = excluded.total,
			currency = excluded.currency,
			payload = excluded.payload,
			synced_at = excluded.synced_at
	`, o.OrderID, o.State, o.Total.String(), string(o.Currency), o.Payload, o.SyncedAt)
	if err != nil {
		return fmt.Errorf("upserting order %s: %w", o.OrderID, err)
	}
	return nil
}

// GetOrder fetches one order by ID.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT order_id, state, total, currency, payload, synced_at FROM orders WHERE order_id = ?
	`, orderID)

	var o domain.Order
	var total string
	if err := row.Scan(&o.OrderID, &o.State, &total, &o.Currency, &o.Payload, &o.SyncedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("order %s not found", orderID)
		}
		return nil, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	parsed, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parsing stored order total: %w", err)
	}
	o.Total = parsed
	return &o, nil
}

// ListOrders returns up to limit mirrored orders, newest synced_at first.
func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT order_id, state, total, currency, payload, synced_at
		FROM orders ORDER BY synced_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var total string
		if err := rows.Scan(&o.OrderID, &o.State, &total, &o.Currency, &o.Payload, &o.SyncedAt); err != nil {
			return nil, fmt.Errorf("scanning order row: %w", err)
		}
		parsed, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("parsing stored order total: %w", err)
		}
		o.Total = parsed
		out = append(out, o)
	}
	return out, rows.Err()
}
