package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MetaLastSync is the metadata key holding the last completed sync pass.
const MetaLastSync = "last_sync"

// GetMeta returns the value stored under key. ok is false if absent.
func (s *Store) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT value FROM metadata WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores value under key, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, s.nowMillis())
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// LastSync returns the time of the last completed sync pass, or the zero
// time if no pass ever completed.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	v, ok, err := s.GetMeta(ctx, MetaLastSync)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", MetaLastSync, err)
	}
	return t, nil
}

// SetLastSync persists the time of a completed sync pass.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, MetaLastSync, t.UTC().Format(time.RFC3339Nano))
}
