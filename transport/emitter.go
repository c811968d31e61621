package transport

import (
	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/store"
)

// Emitter is the interface adapters must satisfy to bridge order events to the engine.
type Emitter interface {
	EmitOrderStatusChanged(o *store.TransportOrder, oldStatus string)
	EmitOrderNeedsScheduling(o *store.TransportOrder, s corridor.Summary)
	EmitOrderArrivedFinal(o *store.TransportOrder)
	EmitOrderAwaitingDelivery(o *store.TransportOrder)
	EmitNoPath(orderID int64, start, end int64, reason string)
}
