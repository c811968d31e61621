package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ichao15/slwl/dispatch"
)

const (
	TaskPending   = "PENDING"
	TaskCompleted = "COMPLETED"
	TaskCancelled = "CANCELLED"

	AssignedDistributed       = "DISTRIBUTED"
	AssignedManualDistributed = "MANUAL_DISTRIBUTED" // no driver on the plan

	LoadingEmpty = "EMPTY"
	LoadingFull  = "FULL"
)

// TransportTask is one truck trip carrying a batched load. The orders it
// carries live in transport_order_tasks.
type TransportTask struct {
	ID                int64      `json:"id"`
	TruckPlanID       int64      `json:"truck_plan_id"`
	TruckID           int64      `json:"truck_id"`
	TripID            int64      `json:"trip_id"`
	DriverIDs         []int64    `json:"driver_ids"`
	StartSite         int64      `json:"start_site_id"`
	EndSite           int64      `json:"end_site_id"`
	TransportOrderIDs []int64    `json:"transport_order_ids"`
	TotalWeight       float64    `json:"total_weight"`
	TotalVolume       float64    `json:"total_volume"`
	Distance          float64    `json:"distance"`
	Status            string     `json:"status"`
	AssignedStatus    string     `json:"assigned_status"`
	LoadingStatus     string     `json:"loading_status"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// NewTransportTask prepares a pending task row from a scheduler task.
func NewTransportTask(t dispatch.Task) *TransportTask {
	tt := &TransportTask{
		TruckPlanID:       t.PlanID,
		TruckID:           t.TruckID,
		TripID:            t.TripID,
		DriverIDs:         t.DriverIDs,
		StartSite:         t.StartSite,
		EndSite:           t.EndSite,
		TransportOrderIDs: t.WaybillIDs,
		TotalWeight:       t.TotalWeight,
		TotalVolume:       t.TotalVolume,
		Status:            TaskPending,
		AssignedStatus:    AssignedDistributed,
		LoadingStatus:     LoadingFull,
	}
	if len(t.DriverIDs) == 0 {
		tt.AssignedStatus = AssignedManualDistributed
	}
	if len(t.WaybillIDs) == 0 {
		tt.LoadingStatus = LoadingEmpty
	}
	return tt
}

const taskSelectCols = `id, truck_plan_id, truck_id, trip_id, driver_ids, start_site_id, end_site_id, total_weight, total_volume, distance, status, assigned_status, loading_status, created_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*TransportTask, error) {
	var t TransportTask
	var drivers string
	var createdAt, completedAt any
	err := row.Scan(&t.ID, &t.TruckPlanID, &t.TruckID, &t.TripID, &drivers, &t.StartSite, &t.EndSite,
		&t.TotalWeight, &t.TotalVolume, &t.Distance, &t.Status, &t.AssignedStatus, &t.LoadingStatus,
		&createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if t.DriverIDs, err = decodeIDs(drivers); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return &t, nil
}

// CreateTransportTask stores the task and its order links in one
// transaction. The distance comes from the line joining the two sites when
// one exists. A plan yields at most one task: a repeat for the same plan
// loads the stored task into t and returns created=false.
func (db *DB) CreateTransportTask(ctx context.Context, t *TransportTask) (bool, error) {
	if existing, err := db.GetTransportTaskByPlan(ctx, t.TruckPlanID); err == nil {
		*t = *existing
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if l, err := db.FindLine(ctx, t.StartSite, t.EndSite); err == nil {
		t.Distance = l.Distance
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("create task: %w", err)
	}

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		id, err := db.insertID(ctx, tx, `INSERT INTO transport_tasks (truck_plan_id, truck_id, trip_id, driver_ids, start_site_id, end_site_id, total_weight, total_volume, distance, status, assigned_status, loading_status) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TruckPlanID, t.TruckID, t.TripID, encodeIDs(t.DriverIDs), t.StartSite, t.EndSite,
			t.TotalWeight, t.TotalVolume, t.Distance, t.Status, t.AssignedStatus, t.LoadingStatus)
		if err != nil {
			return fmt.Errorf("create task for plan %d: %w", t.TruckPlanID, err)
		}
		for _, orderID := range t.TransportOrderIDs {
			if _, err := tx.ExecContext(ctx, db.Q(`INSERT INTO transport_order_tasks (transport_order_id, transport_task_id) VALUES (?, ?)`), orderID, id); err != nil {
				return fmt.Errorf("link order %d to task: %w", orderID, err)
			}
		}
		t.ID = id
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) GetTransportTask(ctx context.Context, id int64) (*TransportTask, error) {
	row := db.QueryRowContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_tasks WHERE id=?`, taskSelectCols)), id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	if t.TransportOrderIDs, err = db.ListTaskOrderIDs(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) GetTransportTaskByPlan(ctx context.Context, planID int64) (*TransportTask, error) {
	var id int64
	err := db.QueryRowContext(ctx, db.Q(`SELECT id FROM transport_tasks WHERE truck_plan_id=?`), planID).Scan(&id)
	if err != nil {
		return nil, notFound(err, "task for plan", planID)
	}
	return db.GetTransportTask(ctx, id)
}

func (db *DB) ListTransportTasks(ctx context.Context, status string, limit int) ([]*TransportTask, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_tasks WHERE status=? ORDER BY id DESC LIMIT ?`, taskSelectCols)), status, limit)
	} else {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM transport_tasks ORDER BY id DESC LIMIT ?`, taskSelectCols)), limit)
	}
	if err != nil {
		return nil, err
	}
	var tasks []*TransportTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// sqlite runs on a single connection, so links load after rows close
	for _, t := range tasks {
		if t.TransportOrderIDs, err = db.ListTaskOrderIDs(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (db *DB) ListTaskOrderIDs(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT transport_order_id FROM transport_order_tasks WHERE transport_task_id=? ORDER BY transport_order_id`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CompleteTransportTask moves a pending task to COMPLETED. A task that is
// not pending yields ErrConflict.
func (db *DB) CompleteTransportTask(ctx context.Context, id int64, at time.Time) error {
	res, err := db.ExecContext(ctx, db.Q(`UPDATE transport_tasks SET status=?, completed_at=? WHERE id=? AND status=?`),
		TaskCompleted, at, id, TaskPending)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := db.GetTransportTask(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("task %d not pending: %w", id, ErrConflict)
	}
	return nil
}
