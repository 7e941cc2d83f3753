package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/remote/memory"
	"github.com/MarquesJr132/stock-system/internal/status"
	"github.com/MarquesJr132/stock-system/internal/store"
)

func TestFetch_OnlineRefreshesCache(t *testing.T) {
	f := newFixture(t)
	f.backend.Seed(record.Customers,
		record.Record{"id": "c1", "tenant_id": tenant, "name": "Ana"},
		record.Record{"id": "c2", "tenant_id": "other", "name": "Bruno"},
	)

	res, err := f.svc.Fetch(ctx(), record.Customers)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	require.Len(t, res.Records, 1, "only the tenant's rows")
	assert.Equal(t, "Ana", res.Records[0].String("name"))

	cached := f.cached(t, record.Customers)
	require.Len(t, cached, 1)
	assert.Equal(t, "c1", cached[0].ID())
}

func TestFetch_OfflineServesCache(t *testing.T) {
	f := newFixture(t)
	f.backend.Seed(record.Customers, record.Record{"id": "c1", "tenant_id": tenant, "name": "Ana"})
	_, err := f.svc.Fetch(ctx(), record.Customers)
	require.NoError(t, err)

	f.offline()
	selects := f.backend.Calls(memory.OpSelect)

	res, err := f.svc.Fetch(ctx(), record.Customers)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	require.Len(t, res.Records, 1)
	assert.Equal(t, selects, f.backend.Calls(memory.OpSelect), "no remote call while offline")
}

func TestFetch_BackendFailureFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	f.backend.SetAvailable(false)

	res, err := f.svc.Fetch(ctx(), record.Suppliers)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Empty(t, res.Records)
	assert.NotNil(t, res.Records)
}

func TestFetch_WithoutLocalStore(t *testing.T) {
	backend := memory.New()
	backend.Seed(record.Products, record.Record{"id": "p1", "tenant_id": tenant, "quantity": 1})
	tracker := status.New(true, fixedNow)
	svc := New(Config{Backend: backend, Tracker: tracker, Identity: Identity{TenantID: tenant}})

	res, err := svc.Fetch(ctx(), record.Products)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)

	tracker.SetOnline(false)
	_, err = svc.Fetch(ctx(), record.Products)
	assert.ErrorIs(t, err, ErrLocalUnavailable)
}

func TestFetch_UnknownTable(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Fetch(ctx(), record.Table("invoices"))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestFetch_KeepsQueuedChangesVisible(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 10)

	f.offline()
	_, err := f.svc.Update(ctx(), record.Products, "p1", record.Record{"name": "Renamed", "quantity": 7})
	require.NoError(t, err)
	created, err := f.svc.Create(ctx(), record.Products, record.Record{"name": "New", "quantity": 2})
	require.NoError(t, err)

	f.tracker.SetOnline(true)
	res, err := f.svc.Fetch(ctx(), record.Products)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	require.Len(t, res.Records, 2)

	p1 := res.Records[indexOf(res.Records, "p1")]
	assert.Equal(t, "Renamed", p1.String("name"))
	assert.Equal(t, int64(7), quantity(t, p1))
	assert.True(t, p1.Pending())

	fresh := res.Records[indexOf(res.Records, created.Record.ID())]
	assert.True(t, fresh.Pending())
	assert.Equal(t, created.Record.ID(), fresh.ID(), "queued creates keep their temporary id")
}

func TestOverlay(t *testing.T) {
	rows := []record.Record{
		{"id": "p1", "quantity": int64(10)},
		{"id": "p2", "quantity": int64(4)},
		{"id": "p3", "quantity": int64(1)},
	}
	saleOp := store.Operation{
		Type: store.OpCreate, Table: record.Sales, TenantID: tenant,
		Payload: record.Record{"id": "s1", reconcile.KeyItems: []any{
			map[string]any{"id": "i1", "product_id": "p1", "quantity": int64(2)},
			map[string]any{"id": "i2", "product_id": "p2", "quantity": int64(1)},
		}},
		Progress: []string{reconcile.StepHeader, reconcile.ItemStep("i1"), reconcile.ItemStep("i2"), reconcile.StockStep("i2")},
	}
	ops := []store.Operation{
		{Type: store.OpCreate, Table: record.Products, Payload: record.Record{"id": "temp_p4", "quantity": int64(5)}},
		{Type: store.OpCreate, Table: record.Products, Payload: record.Record{"id": "temp_p1", "quantity": int64(99)}},
		{Type: store.OpUpdate, Table: record.Products, Payload: record.Record{"id": "temp_p4", reconcile.KeyQuantityDelta: int64(-1)}},
		{Type: store.OpUpdate, Table: record.Products, Payload: record.Record{"id": "p3", reconcile.KeyQuantityDelta: int64(3)}, Progress: []string{reconcile.StepStock}},
		{Type: store.OpDelete, Table: record.Customers, Payload: record.Record{"id": "p2"}},
		saleOp,
	}

	out := overlay(record.Products, rows, ops)
	require.Len(t, out, 4)

	byID := make(map[string]record.Record)
	for _, r := range out {
		byID[r.ID()] = r
	}
	assert.Equal(t, int64(8), quantity(t, byID["p1"]), "unconfirmed sale stock step applied")
	assert.Equal(t, int64(4), quantity(t, byID["p2"]), "confirmed stock step not applied twice")
	assert.Equal(t, int64(1), quantity(t, byID["p3"]), "confirmed delta not applied twice")
	assert.Equal(t, int64(4), quantity(t, byID["temp_p4"]))
	assert.True(t, byID["temp_p4"].Pending())
	assert.False(t, byID["p2"].Pending(), "other tables' deletes do not apply")

	items := overlay(record.SaleItems, nil, ops)
	require.Len(t, items, 2)
	assert.Equal(t, "s1", items[0].String("sale_id"))
	assert.Equal(t, tenant, items[0].String("tenant_id"))
	assert.True(t, items[0].Pending())

	assert.Empty(t, overlay(record.Customers, []record.Record{{"id": "p2"}}, ops), "delete hides the row")
}

func TestRefresh_JoinsErrors(t *testing.T) {
	f := newFixture(t)
	f.backend.SetFault(func(op memory.Op, table record.Table, _ record.Record) error {
		if op == memory.OpSelect && table == record.Suppliers {
			return remote.NewError(remote.CodeUnavailable, table, "boom")
		}
		return nil
	})
	f.backend.Seed(record.Customers, record.Record{"id": "c1", "tenant_id": tenant, "name": "Ana"})

	err := f.svc.Refresh(ctx(), record.Suppliers, record.Customers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh suppliers")
	assert.Len(t, f.cached(t, record.Customers), 1, "later tables still refreshed")
}
