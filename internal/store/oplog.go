package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/MarquesJr132/stock-system/internal/record"
)

// OpType is the kind of mutation an operation replays.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether t is one of the three replayable kinds.
func (t OpType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is a queued mutation waiting for remote confirmation.
type Operation struct {
	ID         string
	Seq        int64
	Type       OpType
	Table      record.Table
	Payload    record.Record
	TenantID   string
	EnqueuedAt time.Time

	// Progress lists replay steps already confirmed by the remote.
	Progress []string
}

// Done reports whether step was already confirmed on a previous attempt.
func (o Operation) Done(step string) bool {
	return slices.Contains(o.Progress, step)
}

// NewOperation is the caller-supplied part of an Operation.
// ID, Seq and EnqueuedAt are assigned by Enqueue.
type NewOperation struct {
	Type     OpType
	Table    record.Table
	Payload  record.Record
	TenantID string

	// Progress pre-marks steps that already reached the remote, for
	// compound writes that failed part way through while online.
	Progress []string
}

// ErrOperationNotFound is returned by MarkStep for an unknown operation id.
var ErrOperationNotFound = errors.New("operation not found")

// Enqueue durably appends op to the log and returns its id.
// The id is unique, seq is strictly increasing, and enqueued_at never goes
// backwards even if the wall clock does.
func (s *Store) Enqueue(ctx context.Context, op NewOperation) (string, error) {
	if !op.Type.Valid() {
		return "", fmt.Errorf("enqueue: invalid operation type %q", op.Type)
	}
	if op.Table == "" {
		return "", fmt.Errorf("enqueue: table is required")
	}
	if op.TenantID == "" {
		return "", fmt.Errorf("enqueue: tenant_id is required")
	}

	payload := op.Payload
	if payload == nil {
		payload = record.Record{}
	}
	payloadJSON, err := record.MarshalRecord(payload)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	progress := op.Progress
	if progress == nil {
		progress = []string{}
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return "", fmt.Errorf("enqueue: marshal progress: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.nowMillis()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	suffix, err := randomSuffix()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	id := fmt.Sprintf("%s_%s_%d_%s", op.Type, op.Table, stamp, suffix)
	seq := s.clock.Next()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations (id, seq, type, table_name, payload, tenant_id, enqueued_at, progress)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, seq, string(op.Type), string(op.Table), payloadJSON, op.TenantID, stamp, string(progressJSON))
	if err != nil {
		return "", fmt.Errorf("enqueue %s %s: %w", op.Type, op.Table, err)
	}
	s.lastStamp = stamp

	return id, nil
}

// ListOperations returns every queued operation in enqueue order.
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ListOperations(ctx context.Context) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, type, table_name, payload, tenant_id, enqueued_at, progress
		FROM operations
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// OperationsForTable returns the queued operations targeting table, in
// enqueue order.
func (s *Store) OperationsForTable(ctx context.Context, table record.Table) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, type, table_name, payload, tenant_id, enqueued_at, progress
		FROM operations
		WHERE table_name = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(table))
	if err != nil {
		return nil, fmt.Errorf("operations for %s: %w", table, err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// RemoveOperation deletes the operation with the given id.
// Removing an id that is not present is a no-op.
func (s *Store) RemoveOperation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove operation %s: %w", id, err)
	}
	return nil
}

// PendingCount returns the number of queued operations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// MarkStep records that step of operation id reached the remote, so a later
// replay skips it. Marking an already recorded step is a no-op.
func (s *Store) MarkStep(ctx context.Context, id, step string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark step: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT progress FROM operations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark step %s on %s: %w", step, id, ErrOperationNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark step %s on %s: %w", step, id, err)
	}

	progress, err := decodeProgress(raw)
	if err != nil {
		return fmt.Errorf("mark step %s on %s: %w", step, id, err)
	}
	if slices.Contains(progress, step) {
		return nil
	}
	progress = append(progress, step)

	encoded, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("mark step %s on %s: %w", step, id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE operations SET progress = ? WHERE id = ?`, string(encoded), id); err != nil {
		return fmt.Errorf("mark step %s on %s: %w", step, id, err)
	}
	return tx.Commit()
}

func scanOperations(rows *sql.Rows) ([]Operation, error) {
	ops := []Operation{}
	for rows.Next() {
		var (
			op                  Operation
			typ, table, payload string
			progress            string
			enqueuedAt          int64
		)
		if err := rows.Scan(&op.ID, &op.Seq, &typ, &table, &payload, &op.TenantID, &enqueuedAt, &progress); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Type = OpType(typ)
		op.Table = record.Table(table)
		op.EnqueuedAt = time.UnixMilli(enqueuedAt)

		rec, err := record.UnmarshalRecord([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("operation %s payload: %w", op.ID, err)
		}
		op.Payload = rec

		op.Progress, err = decodeProgress(progress)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

func decodeProgress(raw string) ([]string, error) {
	progress := []string{}
	if raw == "" {
		return progress, nil
	}
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return progress, nil
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomSuffix returns 9 random base-36 characters.
func randomSuffix() (string, error) {
	b := make([]byte, 9)
	base := big.NewInt(int64(len(suffixAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("random suffix: %w", err)
		}
		b[i] = suffixAlphabet[n.Int64()]
	}
	return string(b), nil
}
