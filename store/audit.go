package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Audit entity names shared by the writers and the operator views.
const (
	AuditOrder = "transport_order"
	AuditTask  = "transport_task"
	AuditPlan  = "vehicle_plan"
)

// AuditEntry is one recorded change: who moved which entity from what to what.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

const auditSelectCols = `id, entity_type, entity_id, action, old_value, new_value, actor, created_at`

func (db *DB) AppendAudit(ctx context.Context, entityType string, entityID int64, action, oldValue, newValue, actor string) error {
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO audit_log (entity_type, entity_id, action, old_value, new_value, actor) VALUES (?, ?, ?, ?, ?, ?)`),
		entityType, entityID, action, oldValue, newValue, actor)
	return err
}

// ListAuditLog returns the newest entries first, limited to one entity type
// unless entityType is empty.
func (db *DB) ListAuditLog(ctx context.Context, entityType string, limit int) ([]*AuditEntry, error) {
	var rows *sql.Rows
	var err error
	if entityType != "" {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM audit_log WHERE entity_type=? ORDER BY id DESC LIMIT ?`, auditSelectCols)), entityType, limit)
	} else {
		rows, err = db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM audit_log ORDER BY id DESC LIMIT ?`, auditSelectCols)), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()
	return scanAudit(rows)
}

// ListEntityAudit returns one entity's trail in the order it happened.
func (db *DB) ListEntityAudit(ctx context.Context, entityType string, entityID int64) ([]*AuditEntry, error) {
	rows, err := db.QueryContext(ctx, db.Q(fmt.Sprintf(`SELECT %s FROM audit_log WHERE entity_type=? AND entity_id=? ORDER BY id`, auditSelectCols)), entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit for %s %d: %w", entityType, entityID, err)
	}
	defer rows.Close()
	return scanAudit(rows)
}

func scanAudit(rows *sql.Rows) ([]*AuditEntry, error) {
	entries := []*AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var createdAt any
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.OldValue, &e.NewValue, &e.Actor, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
