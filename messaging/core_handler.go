package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/protocol"
	"github.com/ichao15/slwl/route"
	"github.com/ichao15/slwl/store"
	"github.com/ichao15/slwl/transport"
)

// CorridorQueue accepts waybills waiting on a corridor.
type CorridorQueue interface {
	Enqueue(ctx context.Context, c corridor.Corridor, s corridor.Summary) (bool, error)
}

// PlanStore records vehicle plans for the scheduler to pull.
type PlanStore interface {
	CreateVehiclePlan(ctx context.Context, p *store.VehiclePlan) (bool, error)
}

// OrderFlow is the transport order state machine.
type OrderFlow interface {
	Convert(ctx context.Context, req transport.NewOrder) (*store.TransportOrder, error)
	AdvanceHop(ctx context.Context, id int64) (*store.TransportOrder, error)
	CompleteTask(ctx context.Context, taskID int64) error
	Reject(ctx context.Context, id int64, reason string) (*store.TransportOrder, error)
}

// CoreHandler handles inbound protocol messages on the inbound topic.
// Queue messages go straight to the corridor queue; order events are
// delegated to the transport state machine.
type CoreHandler struct {
	protocol.NoOpHandler

	queue  CorridorQueue
	plans  PlanStore
	orders OrderFlow
}

func NewCoreHandler(queue CorridorQueue, plans PlanStore, orders OrderFlow) *CoreHandler {
	return &CoreHandler{
		queue:  queue,
		plans:  plans,
		orders: orders,
	}
}

func (h *CoreHandler) HandleWaybillTransit(ctx context.Context, env *protocol.Envelope, p *protocol.WaybillTransit) error {
	return h.enqueue(ctx, env, p)
}

func (h *CoreHandler) HandleOrderNeedsScheduling(ctx context.Context, env *protocol.Envelope, p *protocol.WaybillTransit) error {
	return h.enqueue(ctx, env, p)
}

func (h *CoreHandler) enqueue(ctx context.Context, env *protocol.Envelope, p *protocol.WaybillTransit) error {
	if p.TransportOrderID <= 0 || p.CurrentSiteID <= 0 || p.NextSiteID <= 0 {
		return fmt.Errorf("%w: %s without order or sites", protocol.ErrMalformed, env.Type)
	}
	created := p.Created
	if created.IsZero() {
		created = env.Timestamp
	}
	s := corridor.Summary{
		WaybillID:     p.TransportOrderID,
		CurrentSiteID: p.CurrentSiteID,
		NextSiteID:    p.NextSiteID,
		TotalWeight:   p.TotalWeight,
		TotalVolume:   p.TotalVolume,
		CreatedAt:     created,
	}
	added, err := h.queue.Enqueue(ctx, s.Corridor(), s)
	if err != nil {
		return err
	}
	if !added {
		log.Printf("core_handler: waybill %d already queued on %s", s.WaybillID, s.Corridor())
	}
	return nil
}

func (h *CoreHandler) HandleVehiclePlanAvailable(ctx context.Context, env *protocol.Envelope, p *protocol.VehiclePlanAvailable) error {
	if p.PlanID <= 0 {
		return fmt.Errorf("%w: vehicle plan without id", protocol.ErrMalformed)
	}
	planned := p.PlannedAt
	if planned.IsZero() {
		planned = env.Timestamp
	}
	created, err := h.plans.CreateVehiclePlan(ctx, &store.VehiclePlan{
		ID:        p.PlanID,
		TruckID:   p.TruckID,
		TripID:    p.TripID,
		StartSite: p.StartSiteID,
		EndSite:   p.EndSiteID,
		MaxWeight: p.MaxWeight,
		MaxVolume: p.MaxVolume,
		DriverIDs: p.DriverIDs,
		PlannedAt: planned,
	})
	if err != nil {
		return err
	}
	if created {
		log.Printf("core_handler: vehicle plan %d (truck %d, %d -> %d) recorded", p.PlanID, p.TruckID, p.StartSiteID, p.EndSiteID)
	}
	return nil
}

func (h *CoreHandler) HandleTaskHopCompleted(ctx context.Context, _ *protocol.Envelope, p *protocol.TaskHopCompleted) error {
	o, err := h.orders.AdvanceHop(ctx, p.TransportOrderID)
	if err != nil {
		return settle("hop completed", p.TransportOrderID, err)
	}
	log.Printf("core_handler: order %d at site %d (%s)", o.ID, o.CurrentSite, o.Status)
	return nil
}

func (h *CoreHandler) HandleTaskCompleted(ctx context.Context, _ *protocol.Envelope, p *protocol.TaskCompleted) error {
	if err := h.orders.CompleteTask(ctx, p.TaskID); err != nil {
		return settle("task completed", p.TaskID, err)
	}
	return nil
}

func (h *CoreHandler) HandleOrderRejected(ctx context.Context, _ *protocol.Envelope, p *protocol.OrderRejected) error {
	o, err := h.orders.Reject(ctx, p.TransportOrderID, p.Reason)
	if err != nil {
		return settle("order rejected", p.TransportOrderID, err)
	}
	log.Printf("core_handler: order %d rejected (%s), returning via %v", o.ID, p.Reason, o.Route)
	return nil
}

func (h *CoreHandler) HandleOrderConvert(ctx context.Context, _ *protocol.Envelope, p *protocol.OrderConvert) error {
	o, err := h.orders.Convert(ctx, transport.NewOrder{
		OrderID:     p.OrderID,
		StartSite:   p.StartSiteID,
		EndSite:     p.EndSiteID,
		TotalWeight: p.TotalWeight,
		TotalVolume: p.TotalVolume,
	})
	if err != nil {
		return settle("convert", p.OrderID, err)
	}
	log.Printf("core_handler: order %d converted to transport order %d (%s)", p.OrderID, o.ID, o.Status)
	return nil
}

// settle logs business outcomes and acknowledges them; anything else is
// returned for redelivery.
func settle(event string, id int64, err error) error {
	if isOutcome(err) {
		log.Printf("core_handler: %s %d: %v", event, id, err)
		return nil
	}
	return fmt.Errorf("%s %d: %w", event, id, err)
}

func isOutcome(err error) bool {
	for _, target := range []error{
		transport.ErrInvalidTransition,
		transport.ErrInvalidOrder,
		store.ErrNotFound,
		store.ErrConflict,
		route.ErrNoPath,
		route.ErrSameSite,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var _ protocol.MessageHandler = (*CoreHandler)(nil)
