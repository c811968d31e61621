package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ichao15/slwl/dispatch"
)

const (
	PlanPending   = "PENDING"
	PlanClaimed   = "CLAIMED"
	PlanScheduled = "SCHEDULED"
)

// VehiclePlan is a truck trip published by fleet planning. The id is the
// upstream plan id, so redelivered plans are ignored.
type VehiclePlan struct {
	ID          int64      `json:"id"`
	TruckID     int64      `json:"truck_id"`
	TripID      int64      `json:"trip_id"`
	StartSite   int64      `json:"start_site_id"`
	EndSite     int64      `json:"end_site_id"`
	MaxWeight   float64    `json:"max_weight"`
	MaxVolume   float64    `json:"max_volume"`
	DriverIDs   []int64    `json:"driver_ids"`
	Status      string     `json:"status"`
	PlannedAt   time.Time  `json:"planned_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Plan converts the row for the scheduler. Ratios are left for the
// scheduler to default.
func (p *VehiclePlan) Plan() dispatch.Plan {
	return dispatch.Plan{
		ID:        p.ID,
		TruckID:   p.TruckID,
		TripID:    p.TripID,
		StartSite: p.StartSite,
		EndSite:   p.EndSite,
		DriverIDs: p.DriverIDs,
		Profile:   dispatch.Profile{MaxWeight: p.MaxWeight, MaxVolume: p.MaxVolume},
	}
}

const planSelectCols = `id, truck_id, trip_id, start_site_id, end_site_id, max_weight, max_volume, driver_ids, status, planned_at, scheduled_at, created_at`

func scanPlan(row interface{ Scan(...any) error }) (*VehiclePlan, error) {
	var p VehiclePlan
	var drivers string
	var plannedAt, scheduledAt, createdAt any
	err := row.Scan(&p.ID, &p.TruckID, &p.TripID, &p.StartSite, &p.EndSite, &p.MaxWeight, &p.MaxVolume,
		&drivers, &p.Status, &plannedAt, &scheduledAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if p.DriverIDs, err = decodeIDs(drivers); err != nil {
		return nil, err
	}
	p.PlannedAt = parseTime(plannedAt)
	p.ScheduledAt = parseTimePtr(scheduledAt)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func scanPlans(rows *sql.Rows) ([]*VehiclePlan, error) {
	var plans []*VehiclePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// CreateVehiclePlan stores a pending plan. It reports false when a plan
// with the same id already exists.
func (db *DB) CreateVehiclePlan(ctx context.Context, p *VehiclePlan) (bool, error) {
	if p.ID == 0 {
		return false, fmt.Errorf("create vehicle plan: %w: missing plan id", dispatch.ErrInvalidPlan)
	}
	if p.Status == "" {
		p.Status = PlanPending
	}
	res, err := db.ExecContext(ctx, db.Q(`INSERT INTO vehicle_plans (id, truck_id, trip_id, start_site_id, end_site_id, max_weight, max_volume, driver_ids, status, planned_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		p.ID, p.TruckID, p.TripID, p.StartSite, p.EndSite, p.MaxWeight, p.MaxVolume, encodeIDs(p.DriverIDs), p.Status, nullTime(p.PlannedAt))
	if err != nil {
		return false, fmt.Errorf("create vehicle plan %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *DB) GetVehiclePlan(ctx context.Context, id int64) (*VehiclePlan, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM vehicle_plans WHERE id=?`, planSelectCols)), id)
	p, err := scanPlan(row)
	if err != nil {
		return nil, notFound(err, "vehicle plan", id)
	}
	return p, nil
}

func (db *DB) ListVehiclePlans(ctx context.Context, status string, limit int) ([]*VehiclePlan, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM vehicle_plans WHERE status=? ORDER BY id DESC LIMIT ?`, planSelectCols)), status, limit)
	} else {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM vehicle_plans ORDER BY id DESC LIMIT ?`, planSelectCols)), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlans(rows)
}

// PullUnassigned claims the pending plans of one shard, where a plan
// belongs to shard id % shardTotal, and returns only the plans this call
// won. A claim flips PENDING to CLAIMED in a guarded update, so concurrent
// passes never batch the same plan.
//
// Claims taken before staleBefore belong to a pass that never finished.
// Those plans are completed when their task was persisted and claimed
// afresh otherwise.
func (db *DB) PullUnassigned(ctx context.Context, shardTotal, shardIndex int, staleBefore time.Time) ([]dispatch.Plan, error) {
	if shardTotal < 1 || shardIndex < 0 || shardIndex >= shardTotal {
		return nil, fmt.Errorf("pull plans: shard %d of %d out of range", shardIndex, shardTotal)
	}
	now := time.Now()
	stale := staleBefore.UnixMilli()

	if _, err := db.ExecContext(ctx, db.Q(`UPDATE vehicle_plans SET status=?, scheduled_at=? WHERE status=? AND claimed_ms < ? AND id % ? = ? AND EXISTS (SELECT 1 FROM transport_tasks t WHERE t.truck_plan_id = vehicle_plans.id)`),
		PlanScheduled, now, PlanClaimed, stale, shardTotal, shardIndex); err != nil {
		return nil, fmt.Errorf("pull plans: settle stale claims: %w", err)
	}

	stored, err := db.claimCandidates(ctx, shardTotal, shardIndex, stale)
	if err != nil {
		return nil, fmt.Errorf("pull plans: %w", err)
	}
	plans := make([]dispatch.Plan, 0, len(stored))
	for _, p := range stored {
		res, err := db.ExecContext(ctx, db.Q(`UPDATE vehicle_plans SET status=?, claimed_ms=? WHERE id=? AND (status=? OR (status=? AND claimed_ms < ?))`),
			PlanClaimed, now.UnixMilli(), p.ID, PlanPending, PlanClaimed, stale)
		if err != nil {
			return nil, fmt.Errorf("pull plans: claim %d: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			continue
		}
		plans = append(plans, p.Plan())
	}
	return plans, nil
}

func (db *DB) claimCandidates(ctx context.Context, shardTotal, shardIndex int, stale int64) ([]*VehiclePlan, error) {
	rows, err := db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM vehicle_plans WHERE id %% ? = ? AND (status=? OR (status=? AND claimed_ms < ?)) ORDER BY id`, planSelectCols)),
		shardTotal, shardIndex, PlanPending, PlanClaimed, stale)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlans(rows)
}

// CompletePlans marks the given plans as scheduled.
func (db *DB) CompletePlans(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := inList(ids, PlanScheduled, at)
	_, err := db.ExecContext(ctx, db.Q(`UPDATE vehicle_plans SET status=?, scheduled_at=? WHERE id IN (`+marks+`)`), args...)
	if err != nil {
		return fmt.Errorf("complete plans: %w", err)
	}
	return nil
}

// ReleasePlans hands claimed plans back to the pending pool for the next pass.
func (db *DB) ReleasePlans(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := inList(ids, PlanPending, PlanClaimed)
	_, err := db.ExecContext(ctx, db.Q(`UPDATE vehicle_plans SET status=?, claimed_ms=0 WHERE status=? AND id IN (`+marks+`)`), args...)
	if err != nil {
		return fmt.Errorf("release plans: %w", err)
	}
	return nil
}

// inList builds the placeholders for an IN clause over ids, with the ids
// appended after the leading args.
func inList(ids []int64, leading ...any) (string, []any) {
	args := append([]any(nil), leading...)
	for _, id := range ids {
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
