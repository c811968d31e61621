package store

import (
	"context"
	"time"
)

// OrderHistory is one tracking line shown to the customer.
type OrderHistory struct {
	ID               int64     `json:"id"`
	TransportOrderID int64     `json:"transport_order_id"`
	Status           string    `json:"status"`
	Info             string    `json:"info"`
	CreatedAt        time.Time `json:"created_at"`
}

func (db *DB) appendHistory(ctx context.Context, ex execer, transportOrderID int64, status, info string) error {
	_, err := ex.ExecContext(ctx, db.Q(`INSERT INTO order_history (transport_order_id, status, info) VALUES (?, ?, ?)`),
		transportOrderID, status, info)
	return err
}

func (db *DB) ListOrderHistory(ctx context.Context, transportOrderID int64) ([]*OrderHistory, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT id, transport_order_id, status, info, created_at FROM order_history WHERE transport_order_id=? ORDER BY id`), transportOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []*OrderHistory
	for rows.Next() {
		var h OrderHistory
		var createdAt any
		if err := rows.Scan(&h.ID, &h.TransportOrderID, &h.Status, &h.Info, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(createdAt)
		history = append(history, &h)
	}
	return history, rows.Err()
}
