package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transport order statuses.
const (
	OrderCreated       = "CREATED"
	OrderToBeScheduled = "TO_BE_SCHEDULED"
	OrderScheduled     = "SCHEDULED"
	OrderArrivedEnd    = "ARRIVED_END"
	OrderRejected      = "REJECTED"
)

// ErrConflict is returned when a row changed underneath a conditional update.
var ErrConflict = errors.New("conflicting concurrent update")

// TransportOrder tracks one waybill across its hops. Route only grows:
// a reversal appends the return leg after the outbound one.
type TransportOrder struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	StartSite        int64           `json:"start_site_id"`
	EndSite          int64           `json:"end_site_id"`
	CurrentSite      int64           `json:"current_site_id"`
	NextSite         int64           `json:"next_site_id"`
	Status           string          `json:"status"`
	IsRejected       bool            `json:"is_rejected"`
	Route            []int64         `json:"route"`
	Cost             decimal.Decimal `json:"cost"`
	TotalWeight      float64         `json:"total_weight"`
	TotalVolume      float64         `json:"total_volume"`
	EstimatedArrival time.Time       `json:"estimated_arrival"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

const transportOrderSelectCols = `id, order_id, start_site_id, end_site_id, current_site_id, next_site_id, status, is_rejected, route, cost, total_weight, total_volume, estimated_arrival, created_at, updated_at`

func scanTransportOrder(row interface{ Scan(...any) error }) (*TransportOrder, error) {
	var o TransportOrder
	var routeJSON string
	var eta, createdAt, updatedAt any
	err := row.Scan(&o.ID, &o.OrderID, &o.StartSite, &o.EndSite, &o.CurrentSite, &o.NextSite,
		&o.Status, &o.IsRejected, &routeJSON, &o.Cost, &o.TotalWeight, &o.TotalVolume,
		&eta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if o.Route, err = decodeIDs(routeJSON); err != nil {
		return nil, err
	}
	o.EstimatedArrival = parseTime(eta)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func scanTransportOrders(rows *sql.Rows) ([]*TransportOrder, error) {
	var orders []*TransportOrder
	for rows.Next() {
		o, err := scanTransportOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateTransportOrder inserts the order and its first history line.
func (db *DB) CreateTransportOrder(ctx context.Context, o *TransportOrder, info string) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insertID(ctx, tx, `INSERT INTO transport_orders (order_id, start_site_id, end_site_id, current_site_id, next_site_id, status, is_rejected, route, cost, total_weight, total_volume, estimated_arrival) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.OrderID, o.StartSite, o.EndSite, o.CurrentSite, o.NextSite, o.Status, o.IsRejected,
			encodeIDs(o.Route), o.Cost, o.TotalWeight, o.TotalVolume, nullTime(o.EstimatedArrival))
		if err != nil {
			return fmt.Errorf("create transport order for order %d: %w", o.OrderID, err)
		}
		o.ID = id
		return db.appendHistory(ctx, tx, o.ID, o.Status, info)
	})
}

// UpdateTransportOrder writes the mutable fields of o if the stored status
// still equals fromStatus, and records a history line. A status that moved
// on in the meantime yields ErrConflict.
func (db *DB) UpdateTransportOrder(ctx context.Context, o *TransportOrder, fromStatus, info string) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, db.Q(`UPDATE transport_orders SET current_site_id=?, next_site_id=?, status=?, is_rejected=?, route=?, cost=?, estimated_arrival=?, updated_at=datetime('now','localtime') WHERE id=? AND status=?`),
			o.CurrentSite, o.NextSite, o.Status, o.IsRejected, encodeIDs(o.Route), o.Cost, nullTime(o.EstimatedArrival), o.ID, fromStatus)
		if err != nil {
			return fmt.Errorf("update transport order %d: %w", o.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("transport order %d not in status %s: %w", o.ID, fromStatus, ErrConflict)
		}
		return db.appendHistory(ctx, tx, o.ID, o.Status, info)
	})
}

func (db *DB) GetTransportOrder(ctx context.Context, id int64) (*TransportOrder, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_orders WHERE id=?`, transportOrderSelectCols)), id)
	o, err := scanTransportOrder(row)
	if err != nil {
		return nil, notFound(err, "transport order", id)
	}
	return o, nil
}

// GetTransportOrderByOrderID looks up the transport order converted from a
// business order.
func (db *DB) GetTransportOrderByOrderID(ctx context.Context, orderID int64) (*TransportOrder, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_orders WHERE order_id=?`, transportOrderSelectCols)), orderID)
	o, err := scanTransportOrder(row)
	if err != nil {
		return nil, notFound(err, "order", orderID)
	}
	return o, nil
}

func (db *DB) ListTransportOrders(ctx context.Context, status string, limit int) ([]*TransportOrder, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_orders WHERE status=? ORDER BY id DESC LIMIT ?`, transportOrderSelectCols)), status, limit)
	} else {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_orders ORDER BY id DESC LIMIT ?`, transportOrderSelectCols)), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransportOrders(rows)
}

// ListStaleOrders returns orders that have sat in status since before the
// given time, oldest first.
func (db *DB) ListStaleOrders(ctx context.Context, status string, before time.Time, limit int) ([]*TransportOrder, error) {
	rows, err := db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_orders WHERE status=? AND updated_at < ? ORDER BY updated_at, id LIMIT ?`, transportOrderSelectCols)),
		status, db.timeArg(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()
	return scanTransportOrders(rows)
}

// TouchTransportOrder restarts the order's staleness clock without changing
// its status. An order that moved on yields ErrConflict.
func (db *DB) TouchTransportOrder(ctx context.Context, id int64, status string) error {
	res, err := db.ExecContext(ctx, db.Q(`UPDATE transport_orders SET updated_at=datetime('now','localtime') WHERE id=? AND status=?`), id, status)
	if err != nil {
		return fmt.Errorf("touch transport order %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transport order %d not in status %s: %w", id, status, ErrConflict)
	}
	return nil
}
