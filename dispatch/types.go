package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/ichao15/slwl/corridor"
)

var (
	ErrOversize    = errors.New("waybill exceeds vehicle capacity")
	ErrInvalidPlan = errors.New("invalid vehicle plan")
)

// OversizeError is returned by Batch when the queue head alone overflows
// the vehicle. The head is left in place.
type OversizeError struct {
	WaybillID int64
	Corridor  corridor.Corridor
	Weight    float64
	Volume    float64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("waybill %d on %s (%.2fkg, %.3fm3): %v", e.WaybillID, e.Corridor, e.Weight, e.Volume, ErrOversize)
}

func (e *OversizeError) Unwrap() error { return ErrOversize }

// Plan is one vehicle trip awaiting a load.
type Plan struct {
	ID        int64   `json:"id"`
	TruckID   int64   `json:"truck_id"`
	TripID    int64   `json:"trip_id"`
	StartSite int64   `json:"start_site"`
	EndSite   int64   `json:"end_site"`
	DriverIDs []int64 `json:"driver_ids"`
	Profile   Profile `json:"profile"`
}

func (p Plan) Corridor() corridor.Corridor {
	return corridor.New(p.StartSite, p.EndSite)
}

// Validate checks the identifiers the scheduler needs before locking.
func (p Plan) Validate() error {
	switch {
	case p.ID == 0:
		return fmt.Errorf("%w: missing plan id", ErrInvalidPlan)
	case p.StartSite == 0 || p.EndSite == 0:
		return fmt.Errorf("%w: plan %d missing start or end site", ErrInvalidPlan, p.ID)
	case p.TripID == 0:
		return fmt.Errorf("%w: plan %d missing trip id", ErrInvalidPlan, p.ID)
	case p.TruckID == 0:
		return fmt.Errorf("%w: plan %d missing truck id", ErrInvalidPlan, p.ID)
	}
	return p.Profile.Validate()
}

// Task is the result of one successful batch for one plan.
type Task struct {
	PlanID      int64     `json:"plan_id"`
	TruckID     int64     `json:"truck_id"`
	TripID      int64     `json:"trip_id"`
	DriverIDs   []int64   `json:"driver_ids"`
	StartSite   int64     `json:"start_site"`
	EndSite     int64     `json:"end_site"`
	WaybillIDs  []int64   `json:"waybill_ids"`
	TotalWeight float64   `json:"total_weight"`
	TotalVolume float64   `json:"total_volume"`
	CreatedAt   time.Time `json:"created_at"`

	// Load is the batched queue entries, kept so an unpersisted task can
	// hand them back to the corridor.
	Load []corridor.Summary `json:"-"`
}

// NewTask builds a task for plan p from a batched load.
func NewTask(p Plan, load []corridor.Summary) Task {
	t := Task{
		PlanID:     p.ID,
		TruckID:    p.TruckID,
		TripID:     p.TripID,
		DriverIDs:  p.DriverIDs,
		StartSite:  p.StartSite,
		EndSite:    p.EndSite,
		WaybillIDs: make([]int64, 0, len(load)),
		CreatedAt:  time.Now(),
		Load:       load,
	}
	for _, s := range load {
		t.WaybillIDs = append(t.WaybillIDs, s.WaybillID)
		t.TotalWeight += s.TotalWeight
		t.TotalVolume += s.TotalVolume
	}
	return t
}
