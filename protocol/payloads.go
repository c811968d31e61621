package protocol

import "time"

// --- Upstream -> Dispatch payloads ---

// WaybillTransit asks for a waybill to be queued on the corridor
// CurrentSiteID -> NextSiteID. OrderNeedsScheduling carries the same body.
type WaybillTransit struct {
	TransportOrderID int64     `json:"transport_order_id"`
	CurrentSiteID    int64     `json:"current_site_id"`
	NextSiteID       int64     `json:"next_site_id"`
	TotalWeight      float64   `json:"total_weight"`
	TotalVolume      float64   `json:"total_volume"`
	Created          time.Time `json:"created"`
}

// VehiclePlanAvailable announces a truck trip ready to be loaded.
type VehiclePlanAvailable struct {
	PlanID      int64     `json:"plan_id"`
	TruckID     int64     `json:"truck_id"`
	TripID      int64     `json:"trip_id"`
	StartSiteID int64     `json:"start_site_id"`
	EndSiteID   int64     `json:"end_site_id"`
	MaxWeight   float64   `json:"max_weight"`
	MaxVolume   float64   `json:"max_volume"`
	DriverIDs   []int64   `json:"driver_ids"`
	PlannedAt   time.Time `json:"planned_at"`
}

// TaskHopCompleted reports that one order reached its next site.
type TaskHopCompleted struct {
	TransportOrderID int64 `json:"transport_order_id"`
}

// TaskCompleted reports that a truck finished its trip.
type TaskCompleted struct {
	TaskID int64 `json:"task_id"`
}

// OrderRejected reports a recipient refusal.
type OrderRejected struct {
	TransportOrderID int64  `json:"transport_order_id"`
	Reason           string `json:"reason"`
}

// OrderConvert turns a business order into a transport order.
type OrderConvert struct {
	OrderID     int64   `json:"order_id"`
	StartSiteID int64   `json:"start_site_id"`
	EndSiteID   int64   `json:"end_site_id"`
	TotalWeight float64 `json:"total_weight"`
	TotalVolume float64 `json:"total_volume"`
}

// --- Dispatch -> Downstream payloads ---

// TaskCreated is one truck load.
type TaskCreated struct {
	TaskID      int64   `json:"task_id"`
	PlanID      int64   `json:"truck_plan_id"`
	TruckID     int64   `json:"truck_id"`
	TripID      int64   `json:"transport_trips_id"`
	DriverIDs   []int64 `json:"driver_ids"`
	StartSiteID int64   `json:"start_site_id"`
	EndSiteID   int64   `json:"end_site_id"`
	WaybillIDs  []int64 `json:"transport_order_ids"`
	TotalWeight float64 `json:"total_weight"`
	TotalVolume float64 `json:"total_volume"`
}

// PlanCompleted lists vehicle plans consumed by a scheduler tick.
type PlanCompleted struct {
	IDs     []int64 `json:"ids"`
	Created int64   `json:"created"` // unix millis
}

// OrderArrived is sent when an order reaches the final site of its route.
type OrderArrived struct {
	TransportOrderID int64 `json:"transport_order_id"`
	OrderID          int64 `json:"order_id"`
	SiteID           int64 `json:"site_id"`
	IsRejected       bool  `json:"is_rejected"`
}

// OrderStatus is a transport order status change.
type OrderStatus struct {
	TransportOrderID int64  `json:"transport_order_id"`
	OrderID          int64  `json:"order_id"`
	OldStatus        string `json:"old_status"`
	Status           string `json:"status"`
	CurrentSiteID    int64  `json:"current_site_id"`
	NextSiteID       int64  `json:"next_site_id"`
}

// WaybillOversize alerts operators to a waybill no vehicle can carry.
type WaybillOversize struct {
	TransportOrderID int64 `json:"transport_order_id"`
	OriginSiteID     int64 `json:"origin_site_id"`
	DestSiteID       int64 `json:"dest_site_id"`
	Attempts         int64 `json:"attempts"`
	Diverted         bool  `json:"diverted"`
}

// OrderNoPath alerts operators that an order has no route.
type OrderNoPath struct {
	OrderID     int64  `json:"order_id"`
	StartSiteID int64  `json:"start_site_id"`
	EndSiteID   int64  `json:"end_site_id"`
	Reason      string `json:"reason"`
}
