package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	keyLastBootTimestamp = "last_boot_timestamp"
	keyLastIgnition      = "last_ignition"
)

// State holds the values the agent compares across restarts. Missing
// keys read as zero.
type State struct {
	db *sql.DB
}

func (s *State) LastBootTimestamp(ctx context.Context) (int64, error) {
	return s.get(ctx, keyLastBootTimestamp)
}

func (s *State) SetLastBootTimestamp(ctx context.Context, ts int64) error {
	return s.set(ctx, keyLastBootTimestamp, ts)
}

func (s *State) LastIgnition(ctx context.Context) (bool, error) {
	v, err := s.get(ctx, keyLastIgnition)
	return v != 0, err
}

func (s *State) SetLastIgnition(ctx context.Context, on bool) error {
	var v int64
	if on {
		v = 1
	}
	return s.set(ctx, keyLastIgnition, v)
}

func (s *State) get(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM agent_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read %s: %w", key, err)
	}
	return v, nil
}

func (s *State) set(ctx context.Context, key string, v int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, v)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return nil
}
