package dispatch

import (
	"time"

	"github.com/ichao15/slwl/corridor"
)

// Emitter is the interface adapters must satisfy to bridge scheduler events to the engine.
type Emitter interface {
	EmitTaskCreated(task Task)
	EmitPlansCompleted(planIDs []int64, completedAt time.Time)
	EmitPlanSkipped(planID int64, reason string)
	EmitWaybillOversize(waybillID int64, c corridor.Corridor, attempts int64, diverted bool)
}
