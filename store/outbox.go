package store

import (
	"context"
	"strings"
	"time"
)

// OutboxMessage is an outbound envelope waiting for the broker.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	MsgType   string
	StationID string
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

func (db *DB) EnqueueOutbox(ctx context.Context, topic string, payload []byte, msgType, stationID string) error {
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO outbox (topic, payload, msg_type, station_id) VALUES (?, ?, ?, ?)`),
		topic, payload, msgType, stationID)
	return err
}

// ListPendingOutbox returns unsent messages oldest first, leaving out those
// that already failed maxRetries times. Messages of the uncapped types are
// retried without limit.
func (db *DB) ListPendingOutbox(ctx context.Context, limit, maxRetries int, uncapped ...string) ([]*OutboxMessage, error) {
	query := `SELECT id, topic, payload, msg_type, station_id, retries, created_at FROM outbox WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`
	args := []any{maxRetries, limit}
	if len(uncapped) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(uncapped)), ",")
		query = `SELECT id, topic, payload, msg_type, station_id, retries, created_at FROM outbox WHERE sent_at IS NULL AND (retries < ? OR msg_type IN (` + marks + `)) ORDER BY id LIMIT ?`
		args = []any{maxRetries}
		for _, t := range uncapped {
			args = append(args, t)
		}
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.StationID, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (db *DB) AckOutbox(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, db.Q(`UPDATE outbox SET sent_at=datetime('now','localtime') WHERE id=?`), id)
	return err
}

func (db *DB) IncrementOutboxRetries(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, db.Q(`UPDATE outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}

// PurgeSentOutbox deletes messages acknowledged before cutoff.
func (db *DB) PurgeSentOutbox(ctx context.Context, cutoff time.Time) (int64, error) {
	var arg any = cutoff
	if db.driver == "sqlite" {
		arg = cutoff.Format("2006-01-02 15:04:05")
	}
	res, err := db.ExecContext(ctx, db.Q(`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`), arg)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
