package protocol

// Message type constants for the dispatch protocol.
const (
	// Upstream -> Dispatch (published on the inbound topic)
	TypeWaybillTransit       = "waybill.transit"
	TypeOrderNeedsScheduling = "order.needs_scheduling"
	TypeVehiclePlanAvailable = "vehicle.plan_available"
	TypeTaskHopCompleted     = "task.hop_completed"
	TypeTaskCompleted        = "task.completed"
	TypeOrderRejected        = "order.rejected"
	TypeOrderConvert         = "order.convert"

	// Dispatch -> Downstream (published on the events topic)
	TypeTaskCreated           = "task.created"
	TypePlanCompleted         = "plan.completed"
	TypeOrderArrivedFinal     = "order.arrived_final"
	TypeOrderAwaitingDelivery = "order.awaiting_delivery"
	TypeOrderStatus           = "order.status"
	TypeWaybillOversize       = "waybill.oversize"
	TypeOrderNoPath           = "order.no_path"
)

// Roles for Address.Role.
const (
	RoleDispatch = "dispatch"
	RoleOrders   = "orders"   // business order service
	RoleFleet    = "fleet"    // vehicle planning
	RoleCarrier  = "carrier"  // drivers reporting hops
	RoleDelivery = "delivery" // last-mile assignment
)

// Protocol version.
const Version = 1
