package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Dispatch methods: 1 routes by fewest hops, 2 by lowest cost.
const (
	MethodFewestHops = 1
	MethodLowestCost = 2
)

// DispatchMethod returns the routing method used for new paths. An
// unseeded database routes by fewest hops.
func (db *DB) DispatchMethod(ctx context.Context) (int, error) {
	var m int
	err := db.QueryRowContext(ctx, `SELECT method FROM dispatch_config WHERE id=1`).Scan(&m)
	if errors.Is(err, sql.ErrNoRows) {
		return MethodFewestHops, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dispatch method: %w", err)
	}
	return m, nil
}

// SeedDispatchMethod stores method unless an operator already chose one.
func (db *DB) SeedDispatchMethod(ctx context.Context, method int) error {
	if err := validMethod(method); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO dispatch_config (id, method) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`), method)
	return err
}

func (db *DB) SetDispatchMethod(ctx context.Context, method int) error {
	if err := validMethod(method); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO dispatch_config (id, method) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET method=excluded.method, updated_at=datetime('now','localtime')`), method)
	return err
}

func validMethod(method int) error {
	if method != MethodFewestHops && method != MethodLowestCost {
		return fmt.Errorf("dispatch method %d: must be %d or %d", method, MethodFewestHops, MethodLowestCost)
	}
	return nil
}
