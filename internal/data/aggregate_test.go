package data

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/remote/memory"
)

func saleItem(id, productID string, qty int) record.Record {
	return record.Record{"id": id, "product_id": productID, "quantity": qty, "unit_price": "8.00"}
}

func assertDecimal(t *testing.T, want string, rec record.Record, key string) {
	t.Helper()
	got, ok := rec.Decimal(key)
	require.True(t, ok, "%s missing in %v", key, rec)
	assert.True(t, decimal.RequireFromString(want).Equal(got), "%s = %s, want %s", key, got, want)
}

func TestCreateSale_Online(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 10)

	res, err := f.svc.CreateSale(ctx(), record.Record{"discount": "1.00"}, []record.Record{saleItem("i1", "p1", 3)})
	require.NoError(t, err)
	assert.False(t, res.Pending)
	assertDecimal(t, "23", res.Record, "total_amount")
	assert.Equal(t, "completed", res.Record.String("status"))

	saleID := res.Record.ID()
	row, ok := f.backend.Get(record.Sales, saleID)
	require.True(t, ok)
	assertDecimal(t, "23", row, "total_amount")

	item, ok := f.backend.Get(record.SaleItems, "i1")
	require.True(t, ok)
	assert.Equal(t, saleID, item.String("sale_id"))
	assertDecimal(t, "24", item, "subtotal")
	assert.False(t, item.Has(keyProductName), "display fields stay local")

	stock, _ := f.backend.Get(record.Products, "p1")
	assert.Equal(t, int64(7), quantity(t, stock))

	product := f.cachedRecord(t, record.Products, "p1")
	assert.Equal(t, int64(7), quantity(t, product))
	assert.False(t, product.Pending())

	cachedItem := f.cachedRecord(t, record.SaleItems, "i1")
	assert.Equal(t, "Product p1", cachedItem.String(keyProductName))
	assert.Empty(t, f.pending(t))
}

func TestCreateSale_OfflineDecrementsCachedStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 10)
	f.offline()

	res, err := f.svc.CreateSale(ctx(), record.Record{"customer_id": "c1"}, []record.Record{
		saleItem("i1", "p1", 3),
		saleItem("i2", "p1", 2),
	})
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.True(t, res.Record.Pending())
	assert.Len(t, res.Record.Records(reconcile.KeyItems), 2)

	product := f.cachedRecord(t, record.Products, "p1")
	assert.Equal(t, int64(5), quantity(t, product))
	assert.True(t, product.Pending())
	assert.Len(t, f.cached(t, record.SaleItems), 2)

	ops := f.pending(t)
	require.Len(t, ops, 1, "header and items travel as one operation")
	assert.Equal(t, record.Sales, ops[0].Table)
	assert.Len(t, ops[0].Payload.Records(reconcile.KeyItems), 2)
	assert.Empty(t, f.backend.Rows(record.Sales))
}

func TestCreateSale_Refused(t *testing.T) {
	t.Run("insufficient stock across items", func(t *testing.T) {
		f := newFixture(t)
		f.seedProduct(t, "p1", 3)

		_, err := f.svc.CreateSale(ctx(), record.Record{}, []record.Record{
			saleItem("i1", "p1", 2),
			saleItem("i2", "p1", 2),
		})
		var serr *StockError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, StockError{ProductID: "p1", Requested: 4, Available: 3}, *serr)
		assert.Empty(t, f.backend.Rows(record.Sales))
		assert.Equal(t, int64(3), quantity(t, f.cachedRecord(t, record.Products, "p1")))
	})

	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateSale(ctx(), record.Record{}, []record.Record{saleItem("i1", "nope", 1)})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "product_id", verr.Field)
	})

	t.Run("no items", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateSale(ctx(), record.Record{}, nil)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, reconcile.KeyItems, verr.Field)
	})

	t.Run("zero quantity", func(t *testing.T) {
		f := newFixture(t)
		f.seedProduct(t, "p1", 3)
		_, err := f.svc.CreateSale(ctx(), record.Record{}, []record.Record{saleItem("i1", "p1", 0)})
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("discount above total", func(t *testing.T) {
		f := newFixture(t)
		f.seedProduct(t, "p1", 3)
		_, err := f.svc.CreateSale(ctx(), record.Record{"discount": "100"}, []record.Record{saleItem("i1", "p1", 1)})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "discount", verr.Field)
	})
}

func TestCreateSale_TransientFailureKeepsProgress(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 10)
	f.backend.SetFault(func(op memory.Op, table record.Table, _ record.Record) error {
		if op == memory.OpAdjustStock {
			return remote.NewError(remote.CodeUnavailable, table, "connection reset")
		}
		return nil
	})

	res, err := f.svc.CreateSale(ctx(), record.Record{}, []record.Record{saleItem("i1", "p1", 3)})
	require.NoError(t, err)
	assert.True(t, res.Pending)

	ops := f.pending(t)
	require.Len(t, ops, 1)
	assert.Equal(t, []string{reconcile.StepHeader, reconcile.ItemStep("i1")}, ops[0].Progress)
	assert.Equal(t, 2, f.backend.Calls(memory.OpInsert))

	f.backend.SetFault(nil)
	rec := reconcile.New(f.store, f.backend, f.tracker, reconcile.WithRefresher(f.svc))
	result, err := rec.Sync(ctx())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded, "errors: %v", result.Errors)

	assert.Equal(t, 2, f.backend.Calls(memory.OpInsert), "confirmed steps are not repeated")
	stock, _ := f.backend.Get(record.Products, "p1")
	assert.Equal(t, int64(7), quantity(t, stock))

	product := f.cachedRecord(t, record.Products, "p1")
	assert.Equal(t, int64(7), quantity(t, product))
	assert.False(t, product.Pending())
}

func TestCreateSale_RejectionUndoesHeader(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 10)
	f.backend.SetFault(func(op memory.Op, table record.Table, _ record.Record) error {
		if op == memory.OpInsert && table == record.SaleItems {
			return remote.NewError(remote.CodeRejected, table, "foreign key")
		}
		return nil
	})

	_, err := f.svc.CreateSale(ctx(), record.Record{}, []record.Record{saleItem("i1", "p1", 3)})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, f.backend.Rows(record.Sales), "header insert compensated")
	assert.Empty(t, f.pending(t))
	assert.Empty(t, f.cached(t, record.Sales))
	assert.Equal(t, int64(10), quantity(t, f.cachedRecord(t, record.Products, "p1")))
}

func TestCreateQuotation_LeavesStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 1)

	res, err := f.svc.CreateQuotation(ctx(), record.Record{"valid_until": "2025-07-01"}, []record.Record{
		{"id": "q1", "product_id": "p1", "quantity": 5, "unit_price": "2.50"},
		{"id": "q2", "quantity": 1, "unit_price": "10"},
	})
	require.NoError(t, err, "quotations may exceed stock")
	assert.Equal(t, "pending", res.Record.String("status"))
	assertDecimal(t, "22.5", res.Record, "total_amount")

	assert.Len(t, f.backend.Rows(record.QuotationItems), 2)
	stock, _ := f.backend.Get(record.Products, "p1")
	assert.Equal(t, int64(1), quantity(t, stock))
	assert.Zero(t, f.backend.Calls(memory.OpAdjustStock))
}

func TestCreateSpecialOrder(t *testing.T) {
	f := newFixture(t)
	f.offline()

	items := []record.Record{{"product_name": "Custom shelf", "quantity": 2, "unit_price": "50"}}
	_, err := f.svc.CreateSpecialOrder(ctx(), record.Record{"advance_payment": "150"}, items)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "advance_payment", verr.Field)

	res, err := f.svc.CreateSpecialOrder(ctx(), record.Record{"advance_payment": "40"}, items)
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assertDecimal(t, "100", res.Record, "total_amount")

	created := res.Record.Records(reconcile.KeyItems)
	require.Len(t, created, 1)
	assert.NotEmpty(t, created[0].ID())
	assert.Equal(t, res.Record.ID(), created[0].String("special_order_id"))
}
