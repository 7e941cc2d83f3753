package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/MarquesJr132/stock-system/internal/record"
)

// SaveSnapshot replaces the snapshot of table with recs.
// The blob is overwritten in a single statement; readers never observe a
// partially written list.
func (s *Store) SaveSnapshot(ctx context.Context, table record.Table, recs []record.Record) error {
	data, err := record.MarshalRecords(recs)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", table, err)
	}
	blob := snappy.Encode(nil, data)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data (table_name, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			blob = excluded.blob,
			updated_at = excluded.updated_at
	`, string(table), blob, s.nowMillis())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", table, err)
	}
	return nil
}

// GetSnapshot returns the cached records of table.
// Returns an empty slice (not nil) if the table was never saved.
func (s *Store) GetSnapshot(ctx context.Context, table record.Table) ([]record.Record, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM data WHERE table_name = ?
	`, string(table)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", table, err)
	}

	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: decompress: %w", table, err)
	}

	recs, err := record.UnmarshalRecords(data)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", table, err)
	}
	return recs, nil
}

// SnapshotUpdatedAt returns when table's snapshot was last written.
// ok is false if the table was never saved.
func (s *Store) SnapshotUpdatedAt(ctx context.Context, table record.Table) (t time.Time, ok bool, err error) {
	var ms int64
	err = s.db.QueryRowContext(ctx, `
		SELECT updated_at FROM data WHERE table_name = ?
	`, string(table)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("snapshot updated_at %s: %w", table, err)
	}
	return time.UnixMilli(ms), true, nil
}
