package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/healthmon/internal/command"
	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/observability"
	"github.com/danmuck/healthmon/internal/protocol/codec"
)

// CommandQueue is the inbound queue of remote commands.
type CommandQueue struct {
	db  *sql.DB
	now func() time.Time
}

// Save inserts c when c.ID is zero, assigning c.ID, and otherwise replaces
// the row with the same id, stamping UpdatedAt.
func (q *CommandQueue) Save(ctx context.Context, c *command.Record) error {
	params, err := codec.Marshal(c.Parameters)
	if err != nil {
		return fmt.Errorf("store: encode command parameters: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = q.now()
	}
	if c.ID == 0 {
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		res, err := q.db.ExecContext(ctx,
			`INSERT INTO commands (type, parameters, created_at, updated_at, retries) VALUES (?, ?, ?, ?, ?)`,
			c.Type, params, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(), c.Retries)
		if err != nil {
			return fmt.Errorf("store: insert command: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: insert command: %w", err)
		}
		c.ID = id
		return nil
	}
	c.UpdatedAt = q.now()
	_, err = q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO commands (id, type, parameters, created_at, updated_at, retries) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, params, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(), c.Retries)
	if err != nil {
		return fmt.Errorf("store: replace command id=%d: %w", c.ID, err)
	}
	return nil
}

func (q *CommandQueue) Delete(ctx context.Context, id int64) (bool, error) {
	return deleteByID(ctx, q.db, "commands", id)
}

func (q *CommandQueue) Count(ctx context.Context) (int, error) {
	return count(ctx, q.db, "commands")
}

// Next returns the oldest queued command, or false when the queue is empty.
// Rows whose parameters no longer decode are deleted and skipped.
func (q *CommandQueue) Next(ctx context.Context) (command.Record, bool, error) {
	for {
		row := q.db.QueryRowContext(ctx,
			`SELECT id, type, parameters, created_at, updated_at, retries FROM commands ORDER BY created_at, id LIMIT 1`)
		var (
			c                command.Record
			params           []byte
			created, updated int64
		)
		err := row.Scan(&c.ID, &c.Type, &params, &created, &updated, &c.Retries)
		if errors.Is(err, sql.ErrNoRows) {
			return command.Record{}, false, nil
		}
		if err != nil {
			return command.Record{}, false, fmt.Errorf("store: next command: %w", err)
		}
		if err := codec.Unmarshal(params, &c.Parameters); err != nil {
			logs.Warnf("store.CommandQueue.Next undecodable id=%d type=%q err=%v", c.ID, c.Type, err)
			if _, err := q.Delete(ctx, c.ID); err != nil {
				return command.Record{}, false, err
			}
			observability.RecordCommand(c.Type, "DROPPED", 0)
			continue
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		return c, true, nil
	}
}
