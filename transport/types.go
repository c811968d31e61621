// Package transport drives a transport order hop by hop along its route,
// including the return leg after a rejection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/route"
	"github.com/ichao15/slwl/store"
)

// ErrInvalidTransition is returned when an event does not apply to the
// order's current status.
var ErrInvalidTransition = errors.New("invalid order transition")

// ErrInvalidOrder is returned by Convert for an incomplete business order.
var ErrInvalidOrder = errors.New("invalid order")

// OrderStore persists transport orders and their tasks.
type OrderStore interface {
	CreateTransportOrder(ctx context.Context, o *store.TransportOrder, info string) error
	UpdateTransportOrder(ctx context.Context, o *store.TransportOrder, fromStatus, info string) error
	GetTransportOrder(ctx context.Context, id int64) (*store.TransportOrder, error)
	GetTransportOrderByOrderID(ctx context.Context, orderID int64) (*store.TransportOrder, error)
	ListStaleOrders(ctx context.Context, status string, before time.Time, limit int) ([]*store.TransportOrder, error)
	TouchTransportOrder(ctx context.Context, id int64, status string) error
	GetTransportTask(ctx context.Context, id int64) (*store.TransportTask, error)
	CompleteTransportTask(ctx context.Context, id int64, at time.Time) error
	AppendAudit(ctx context.Context, entityType string, entityID int64, action, oldValue, newValue, actor string) error
	DispatchMethod(ctx context.Context) (int, error)
}

// PathFinder computes site paths.
type PathFinder interface {
	SelectPath(ctx context.Context, start, end int64, policy route.Policy) (*route.Path, error)
}

// NewOrder is a business order ready to be converted.
type NewOrder struct {
	OrderID     int64   `json:"order_id"`
	StartSite   int64   `json:"start_site"`
	EndSite     int64   `json:"end_site"`
	TotalWeight float64 `json:"total_weight"`
	TotalVolume float64 `json:"total_volume"`
}

func (n NewOrder) validate() error {
	switch {
	case n.OrderID <= 0:
		return fmt.Errorf("convert: %w: missing order id", ErrInvalidOrder)
	case n.StartSite <= 0 || n.EndSite <= 0:
		return fmt.Errorf("convert order %d: %w: missing start or end site", n.OrderID, ErrInvalidOrder)
	case n.TotalWeight < 0 || n.TotalVolume < 0:
		return fmt.Errorf("convert order %d: %w: negative weight or volume", n.OrderID, ErrInvalidOrder)
	}
	return nil
}

// EstimatedArrival is 22:00 on the day of creation, or the next day for
// orders created from noon on.
func EstimatedArrival(created time.Time) time.Time {
	day := created
	if created.Hour() >= 12 {
		day = created.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 22, 0, 0, 0, created.Location())
}

// Summary is the queue entry for the order's current hop.
func Summary(o *store.TransportOrder, at time.Time) corridor.Summary {
	return corridor.Summary{
		WaybillID:     o.ID,
		CurrentSiteID: o.CurrentSite,
		NextSiteID:    o.NextSite,
		TotalWeight:   o.TotalWeight,
		TotalVolume:   o.TotalVolume,
		CreatedAt:     at,
	}
}

// lastIndex scans route from the tail so a site revisited on the way back
// resolves to its latest visit.
func lastIndex(route []int64, site int64) int {
	for i := len(route) - 1; i >= 0; i-- {
		if route[i] == site {
			return i
		}
	}
	return -1
}
