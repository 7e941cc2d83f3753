package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarquesJr132/stock-system/internal/record"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ctx() context.Context {
	return context.Background()
}

// frozenNow returns a wall clock stuck at t. Used to exercise enqueued_at
// tie-breaking.
func frozenNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// createTestOperation returns a minimal valid operation.
func createTestOperation(typ OpType, table record.Table, id string) NewOperation {
	return NewOperation{
		Type:     typ,
		Table:    table,
		Payload:  record.Record{record.KeyID: id, "name": "item " + id},
		TenantID: "tenant-1",
	}
}
