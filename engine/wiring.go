package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/dispatch"
	"github.com/ichao15/slwl/protocol"
	"github.com/ichao15/slwl/store"
)

func (e *Engine) wireEventHandlers() {
	// A batched load becomes a persisted task; its orders leave for the next site
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TaskCreatedEvent)
		e.handleTaskCreated(ev)
	}, EventTaskCreated)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(PlansCompletedEvent)
		e.publish(e.cfg.Messaging.EventsTopic, protocol.TypePlanCompleted, protocol.Address{Role: protocol.RoleFleet},
			&protocol.PlanCompleted{IDs: ev.PlanIDs, Created: ev.CompletedAt.UnixMilli()})
	}, EventPlansCompleted)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(PlanSkippedEvent)
		e.logFn("engine: vehicle plan %d skipped: %s", ev.PlanID, ev.Reason)
		e.audit(store.AuditPlan, ev.PlanID, "skipped", "", ev.Reason)
	}, EventPlanSkipped)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(WaybillOversizeEvent)
		e.logFn("engine: waybill %d too large for any vehicle on %s (attempt %d, diverted=%v)", ev.WaybillID, ev.Corridor, ev.Attempts, ev.Diverted)
		if ev.Diverted {
			e.audit(store.AuditOrder, ev.WaybillID, "oversize_diverted", "", ev.Corridor.Key())
		}
		e.publish(e.cfg.Messaging.EventsTopic, protocol.TypeWaybillOversize, protocol.Address{Role: protocol.RoleFleet},
			&protocol.WaybillOversize{
				TransportOrderID: ev.WaybillID,
				OriginSiteID:     ev.Corridor.Origin,
				DestSiteID:       ev.Corridor.Destination,
				Attempts:         ev.Attempts,
				Diverted:         ev.Diverted,
			})
	}, EventWaybillOversize)

	// Status changes go out with the status as the routing suffix
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OrderStatusChangedEvent)
		o := ev.Order
		dst := protocol.Address{Role: protocol.RoleOrders, Node: strings.ToLower(o.Status)}
		e.publish(e.cfg.Messaging.EventsTopic, protocol.TypeOrderStatus, dst, &protocol.OrderStatus{
			TransportOrderID: o.ID,
			OrderID:          o.OrderID,
			OldStatus:        ev.OldStatus,
			Status:           o.Status,
			CurrentSiteID:    o.CurrentSite,
			NextSiteID:       o.NextSite,
		})
	}, EventOrderStatusChanged)

	// Queue requests loop back through the inbound topic so a single
	// consumer owns corridor writes
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OrderNeedsSchedulingEvent)
		s := ev.Summary
		e.publish(e.cfg.Messaging.InboundTopic, protocol.TypeOrderNeedsScheduling, protocol.Address{Role: protocol.RoleDispatch},
			&protocol.WaybillTransit{
				TransportOrderID: s.WaybillID,
				CurrentSiteID:    s.CurrentSiteID,
				NextSiteID:       s.NextSiteID,
				TotalWeight:      s.TotalWeight,
				TotalVolume:      s.TotalVolume,
				Created:          s.CreatedAt,
			})
	}, EventOrderNeedsScheduling)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OrderArrivedEvent)
		e.logFn("engine: order %d arrived at final site %d", ev.Order.ID, ev.Order.CurrentSite)
		e.publish(e.cfg.Messaging.EventsTopic, protocol.TypeOrderArrivedFinal, protocol.Address{Role: protocol.RoleOrders}, arrived(ev.Order))
	}, EventOrderArrivedFinal)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OrderArrivedEvent)
		e.publish(e.cfg.Messaging.EventsTopic, protocol.TypeOrderAwaitingDelivery, protocol.Address{Role: protocol.RoleDelivery}, arrived(ev.Order))
	}, EventOrderAwaitingDelivery)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OrderNoPathEvent)
		e.logFn("engine: no path for order %d from site %d to %d: %s", ev.OrderID, ev.StartSite, ev.EndSite, ev.Reason)
		e.publish(e.cfg.Messaging.EventsTopic, protocol.TypeOrderNoPath, protocol.Address{Role: protocol.RoleOrders},
			&protocol.OrderNoPath{
				OrderID:     ev.OrderID,
				StartSiteID: ev.StartSite,
				EndSiteID:   ev.EndSite,
				Reason:      ev.Reason,
			})
	}, EventOrderNoPath)
}

func (e *Engine) handleTaskCreated(ev TaskCreatedEvent) {
	ctx := context.Background()
	task := store.NewTransportTask(ev.Task)
	created, err := e.db.CreateTransportTask(ctx, task)
	if err != nil {
		e.logFn("engine: persist task for plan %d (orders %v): %v", ev.Task.PlanID, ev.Task.WaybillIDs, err)
		e.restoreLoad(ctx, ev.Task, nil)
		return
	}
	if !created {
		// the plan was batched before: finish scheduling the stored task and
		// hand anything it does not carry back to the corridor
		e.logFn("engine: task for plan %d already exists (id=%d)", task.TruckPlanID, task.ID)
		if err := e.orders.MarkScheduled(ctx, task.ID, task.TransportOrderIDs); err != nil {
			e.logFn("engine: mark orders scheduled for task %d: %v", task.ID, err)
		}
		e.restoreLoad(ctx, ev.Task, task.TransportOrderIDs)
		return
	}
	e.logFn("engine: task %d created for plan %d: %d order(s), %.1f kg, %d -> %d",
		task.ID, task.TruckPlanID, len(task.TransportOrderIDs), task.TotalWeight, task.StartSite, task.EndSite)
	e.audit(store.AuditTask, task.ID, "created", "", fmt.Sprintf("plan=%d orders=%v", task.TruckPlanID, task.TransportOrderIDs))

	if err := e.orders.MarkScheduled(ctx, task.ID, task.TransportOrderIDs); err != nil {
		e.logFn("engine: mark orders scheduled for task %d: %v", task.ID, err)
	}

	e.publish(e.cfg.Messaging.EventsTopic, protocol.TypeTaskCreated, protocol.Address{Role: protocol.RoleCarrier},
		&protocol.TaskCreated{
			TaskID:      task.ID,
			PlanID:      task.TruckPlanID,
			TruckID:     task.TruckID,
			TripID:      task.TripID,
			DriverIDs:   task.DriverIDs,
			StartSiteID: task.StartSite,
			EndSiteID:   task.EndSite,
			WaybillIDs:  task.TransportOrderIDs,
			TotalWeight: task.TotalWeight,
			TotalVolume: task.TotalVolume,
		})
}

// restoreLoad re-enqueues the batched entries a stored task does not carry.
// They go through the deduplicating enqueue, so one still in line is left
// alone.
func (e *Engine) restoreLoad(ctx context.Context, t dispatch.Task, carried []int64) {
	for _, s := range t.Load {
		if slices.Contains(carried, s.WaybillID) {
			continue
		}
		err := corridor.Retry(ctx, e.cfg.Dispatch.RetryMaxElapsed, func() error {
			_, err := e.queue.Enqueue(ctx, s.Corridor(), s)
			return err
		})
		if err != nil {
			e.logFn("engine: restore waybill %d to %s: %v", s.WaybillID, s.Corridor(), err)
			continue
		}
		e.logFn("engine: restored waybill %d to %s", s.WaybillID, s.Corridor())
	}
}

func arrived(o store.TransportOrder) *protocol.OrderArrived {
	return &protocol.OrderArrived{
		TransportOrderID: o.ID,
		OrderID:          o.OrderID,
		SiteID:           o.CurrentSite,
		IsRejected:       o.IsRejected,
	}
}

// publish writes an envelope to the outbox for the drainer to send.
func (e *Engine) publish(topic, msgType string, dst protocol.Address, payload any) {
	src := protocol.Address{Role: protocol.RoleDispatch, Station: e.cfg.Messaging.StationID}
	env, err := protocol.NewEnvelope(msgType, src, dst, payload)
	if err != nil {
		e.logFn("engine: build %s: %v", msgType, err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.logFn("engine: encode %s: %v", msgType, err)
		return
	}
	if err := e.db.EnqueueOutbox(context.Background(), topic, data, msgType, e.cfg.Messaging.StationID); err != nil {
		e.logFn("engine: enqueue %s to outbox: %v", msgType, err)
	}
}

func (e *Engine) audit(entity string, id int64, action, oldValue, newValue string) {
	if err := e.db.AppendAudit(context.Background(), entity, id, action, oldValue, newValue, "system"); err != nil {
		e.logFn("engine: audit %s %d %s: %v", entity, id, action, err)
	}
}
