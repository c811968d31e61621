package engine

import (
	"time"

	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/dispatch"
	"github.com/ichao15/slwl/store"
)

// schedulerEmitter bridges the dispatch scheduler's emitter interface to the EventBus.
type schedulerEmitter struct {
	bus *EventBus
}

func (e *schedulerEmitter) EmitTaskCreated(task dispatch.Task) {
	e.bus.Emit(Event{Type: EventTaskCreated, Payload: TaskCreatedEvent{Task: task}})
}

func (e *schedulerEmitter) EmitPlansCompleted(planIDs []int64, completedAt time.Time) {
	e.bus.Emit(Event{Type: EventPlansCompleted, Payload: PlansCompletedEvent{
		PlanIDs:     planIDs,
		CompletedAt: completedAt,
	}})
}

func (e *schedulerEmitter) EmitPlanSkipped(planID int64, reason string) {
	e.bus.Emit(Event{Type: EventPlanSkipped, Payload: PlanSkippedEvent{PlanID: planID, Reason: reason}})
}

func (e *schedulerEmitter) EmitWaybillOversize(waybillID int64, c corridor.Corridor, attempts int64, diverted bool) {
	e.bus.Emit(Event{Type: EventWaybillOversize, Payload: WaybillOversizeEvent{
		WaybillID: waybillID,
		Corridor:  c,
		Attempts:  attempts,
		Diverted:  diverted,
	}})
}

// orderEmitter bridges the transport state machine's events to the EventBus.
type orderEmitter struct {
	bus *EventBus
}

func (e *orderEmitter) EmitOrderStatusChanged(o *store.TransportOrder, oldStatus string) {
	e.bus.Emit(Event{Type: EventOrderStatusChanged, Payload: OrderStatusChangedEvent{
		Order:     snapshot(o),
		OldStatus: oldStatus,
	}})
}

func (e *orderEmitter) EmitOrderNeedsScheduling(o *store.TransportOrder, s corridor.Summary) {
	e.bus.Emit(Event{Type: EventOrderNeedsScheduling, Payload: OrderNeedsSchedulingEvent{
		Order:   snapshot(o),
		Summary: s,
	}})
}

func (e *orderEmitter) EmitOrderArrivedFinal(o *store.TransportOrder) {
	e.bus.Emit(Event{Type: EventOrderArrivedFinal, Payload: OrderArrivedEvent{Order: snapshot(o)}})
}

func (e *orderEmitter) EmitOrderAwaitingDelivery(o *store.TransportOrder) {
	e.bus.Emit(Event{Type: EventOrderAwaitingDelivery, Payload: OrderArrivedEvent{Order: snapshot(o)}})
}

func (e *orderEmitter) EmitNoPath(orderID int64, start, end int64, reason string) {
	e.bus.Emit(Event{Type: EventOrderNoPath, Payload: OrderNoPathEvent{
		OrderID:   orderID,
		StartSite: start,
		EndSite:   end,
		Reason:    reason,
	}})
}

func snapshot(o *store.TransportOrder) store.TransportOrder {
	c := *o
	c.Route = append([]int64(nil), o.Route...)
	return c
}
