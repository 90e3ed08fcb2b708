package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danmuck/healthmon/internal/health"
	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/observability"
	"github.com/danmuck/healthmon/internal/protocol/codec"
)

// HealthQueue is the outbound queue of health snapshots.
type HealthQueue struct {
	db *sql.DB
}

// Save inserts r when r.ID is zero, assigning r.ID, and otherwise replaces
// the row with the same id.
func (q *HealthQueue) Save(ctx context.Context, r *health.Record) error {
	blob, err := codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: encode health record: %w", err)
	}
	if r.ID == 0 {
		res, err := q.db.ExecContext(ctx,
			`INSERT INTO health_records (retries, created_at, event_type, snapshot) VALUES (?, ?, ?, ?)`,
			r.Retries, r.Timestamp, uint32(r.EventType), blob)
		if err != nil {
			return fmt.Errorf("store: insert health record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: insert health record: %w", err)
		}
		r.ID = id
		return nil
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO health_records (id, retries, created_at, event_type, snapshot) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Retries, r.Timestamp, uint32(r.EventType), blob)
	if err != nil {
		return fmt.Errorf("store: replace health record id=%d: %w", r.ID, err)
	}
	return nil
}

// Delete removes the record with id and reports whether one existed.
func (q *HealthQueue) Delete(ctx context.Context, id int64) (bool, error) {
	return deleteByID(ctx, q.db, "health_records", id)
}

// SetRetries updates the retry counter of an existing record only, so a
// record deleted by an ack in the meantime is not brought back.
func (q *HealthQueue) SetRetries(ctx context.Context, id int64, retries int) (bool, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE health_records SET retries = ? WHERE id = ?`, retries, id)
	if err != nil {
		return false, fmt.Errorf("store: update retries id=%d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: update retries id=%d: %w", id, err)
	}
	return n > 0, nil
}

func (q *HealthQueue) Count(ctx context.Context) (int, error) {
	return count(ctx, q.db, "health_records")
}

// List returns every queued record in creation order. Rows whose snapshot
// no longer decodes are deleted and left out.
func (q *HealthQueue) List(ctx context.Context) ([]health.Record, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, retries, snapshot FROM health_records ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list health records: %w", err)
	}
	defer rows.Close()

	var (
		out []health.Record
		bad []int64
	)
	for rows.Next() {
		var (
			id      int64
			retries int
			blob    []byte
		)
		if err := rows.Scan(&id, &retries, &blob); err != nil {
			return nil, fmt.Errorf("store: scan health record: %w", err)
		}
		var r health.Record
		if err := codec.Unmarshal(blob, &r); err != nil {
			logs.Warnf("store.HealthQueue.List undecodable id=%d err=%v", id, err)
			bad = append(bad, id)
			continue
		}
		r.ID = id
		r.Retries = retries
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list health records: %w", err)
	}
	// The pool holds one connection, so deletes wait for the cursor.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("store: list health records: %w", err)
	}
	for _, id := range bad {
		if _, err := q.Delete(ctx, id); err != nil {
			return nil, err
		}
		observability.RecordDropped("decode")
	}
	return out, nil
}
