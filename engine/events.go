package engine

import (
	"time"

	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/dispatch"
	"github.com/ichao15/slwl/store"
)

const (
	EventTaskCreated EventType = iota + 1
	EventPlansCompleted
	EventPlanSkipped
	EventWaybillOversize
	EventOrderStatusChanged
	EventOrderNeedsScheduling
	EventOrderArrivedFinal
	EventOrderAwaitingDelivery
	EventOrderNoPath
	EventRedisConnected
	EventRedisDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventTaskCreated:           "task-created",
	EventPlansCompleted:        "plans-completed",
	EventPlanSkipped:           "plan-skipped",
	EventWaybillOversize:       "waybill-oversize",
	EventOrderStatusChanged:    "order-status",
	EventOrderNeedsScheduling:  "order-needs-scheduling",
	EventOrderArrivedFinal:     "order-arrived",
	EventOrderAwaitingDelivery: "order-awaiting-delivery",
	EventOrderNoPath:           "order-no-path",
	EventRedisConnected:        "redis-connected",
	EventRedisDisconnected:     "redis-disconnected",
	EventMessagingConnected:    "messaging-connected",
	EventMessagingDisconnected: "messaging-disconnected",
}

// String is the SSE event name.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// --- Event payloads ---

type TaskCreatedEvent struct {
	Task dispatch.Task
}

type PlansCompletedEvent struct {
	PlanIDs     []int64
	CompletedAt time.Time
}

type PlanSkippedEvent struct {
	PlanID int64
	Reason string
}

type WaybillOversizeEvent struct {
	WaybillID int64
	Corridor  corridor.Corridor
	Attempts  int64
	Diverted  bool
}

// Order events carry a snapshot; the state machine keeps mutating its copy.
type OrderStatusChangedEvent struct {
	Order     store.TransportOrder
	OldStatus string
}

type OrderNeedsSchedulingEvent struct {
	Order   store.TransportOrder
	Summary corridor.Summary
}

type OrderArrivedEvent struct {
	Order store.TransportOrder
}

type OrderNoPathEvent struct {
	OrderID   int64
	StartSite int64
	EndSite   int64
	Reason    string
}

type ConnectionEvent struct {
	Detail string
}
