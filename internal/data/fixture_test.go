package data

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote/memory"
	"github.com/MarquesJr132/stock-system/internal/status"
	"github.com/MarquesJr132/stock-system/internal/store"
	"github.com/MarquesJr132/stock-system/internal/testutil"
)

const (
	tenant = "tenant-1"
	actor  = "user-1"
)

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	backend *memory.Backend
	tracker *status.Tracker
	clock   *testutil.Clock
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:   s,
		backend: memory.New(),
		tracker: status.New(true, time.Time{}),
		clock:   testutil.NewClock(fixedNow),
	}
	f.svc = New(Config{
		Backend:  f.backend,
		Local:    s,
		Tracker:  f.tracker,
		Identity: Identity{TenantID: tenant, ActorID: actor},
		Timeout:  time.Second,
		Now:      f.clock.Now,
	})
	return f
}

func (f *fixture) offline() {
	f.tracker.SetOnline(false)
}

func (f *fixture) pending(t *testing.T) []store.Operation {
	t.Helper()
	ops, err := f.store.ListOperations(context.Background())
	require.NoError(t, err)
	return ops
}

func (f *fixture) cached(t *testing.T, table record.Table) []record.Record {
	t.Helper()
	recs, err := f.store.GetSnapshot(context.Background(), table)
	require.NoError(t, err)
	return recs
}

func (f *fixture) cachedRecord(t *testing.T, table record.Table, id string) record.Record {
	t.Helper()
	recs := f.cached(t, table)
	i := indexOf(recs, id)
	require.GreaterOrEqual(t, i, 0, "%s %s not cached", table, id)
	return recs[i]
}

// seedProduct stores a product remotely and in the cache.
func (f *fixture) seedProduct(t *testing.T, id string, qty int64) {
	t.Helper()
	row := record.Record{"id": id, "tenant_id": tenant, "name": "Product " + id, "quantity": qty, "sale_price": "8.00"}
	f.backend.Seed(record.Products, row)
	require.NoError(t, f.svc.Refresh(context.Background(), record.Products))
}

func quantity(t *testing.T, rec record.Record) int64 {
	t.Helper()
	q, ok := rec.Int64(record.KeyQuantity)
	require.True(t, ok, "quantity missing in %v", rec)
	return q
}

// failingEnqueue wraps a store and fails every Enqueue.
type failingEnqueue struct {
	*store.Store
}

func (failingEnqueue) Enqueue(context.Context, store.NewOperation) (string, error) {
	return "", errors.New("disk full")
}

// flakySnapshot wraps a store and fails the next failures GetSnapshot calls.
type flakySnapshot struct {
	*store.Store

	mu       sync.Mutex
	failures int
}

func (f *flakySnapshot) GetSnapshot(ctx context.Context, table record.Table) ([]record.Record, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return f.Store.GetSnapshot(ctx, table)
}

func ctx() context.Context {
	return context.Background()
}
