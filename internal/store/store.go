// Package store keeps the agent's durable queues and small persisted state
// in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	logs "github.com/danmuck/healthmon/internal/logging"
)

const BusyTimeout = 5 * time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS health_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	retries    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	event_type INTEGER NOT NULL,
	snapshot   BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS health_records_created ON health_records (created_at, id);

CREATE TABLE IF NOT EXISTS commands (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT    NOT NULL,
	parameters BLOB    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	retries    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS commands_created ON commands (created_at, id);

CREATE TABLE IF NOT EXISTS agent_state (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// DB owns the SQLite handle behind the health queue, the command queue
// and the agent state.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path with WAL journaling and a
// busy timeout, and applies the schema.
func Open(path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// one writer; queue callers on different goroutines serialize here
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema %s: %w", path, err)
	}
	logs.Infof("store.Open path=%q", path)
	return &DB{db: db, now: time.Now}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Health() *HealthQueue {
	return &HealthQueue{db: d.db}
}

func (d *DB) Commands() *CommandQueue {
	return &CommandQueue{db: d.db, now: d.now}
}

func (d *DB) State() *State {
	return &State{db: d.db}
}

func count(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count %s: %w", table, err)
	}
	return n, nil
}

func deleteByID(ctx context.Context, db *sql.DB, table string, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("store: delete %s id=%d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete %s id=%d: %w", table, id, err)
	}
	return n > 0, nil
}
