package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote/memory"
	"github.com/MarquesJr132/stock-system/internal/store"
)

type markRecorder struct {
	marks []string
	err   error
}

func (m *markRecorder) MarkStep(_ context.Context, opID, step string) error {
	m.marks = append(m.marks, opID+"/"+step)
	return m.err
}

func TestReplay_StepSkipsConfirmed(t *testing.T) {
	op := store.Operation{ID: "op1", Progress: []string{"a"}}
	marks := &markRecorder{}
	r := NewReplay(op, memory.New(), WithMarker(marks))

	var ran []string
	step := func(name string) func(context.Context) error {
		return func(context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}
	require.NoError(t, r.Step(context.Background(), "a", step("a")))
	require.NoError(t, r.Step(context.Background(), "b", step("b")))

	assert.Equal(t, []string{"b"}, ran)
	assert.Equal(t, []string{"op1/b"}, marks.marks)
	assert.Equal(t, []string{"a", "b"}, r.Progress())
	assert.True(t, r.Done("a"))
}

func TestReplay_FailedStepIsNotMarked(t *testing.T) {
	marks := &markRecorder{}
	r := NewReplay(store.Operation{ID: "op1"}, memory.New(), WithMarker(marks))

	boom := errors.New("boom")
	err := r.Step(context.Background(), "header", func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "header")
	assert.Empty(t, marks.marks)
	assert.False(t, r.Done("header"))
}

func TestReplay_LostMarkDoesNotFailStep(t *testing.T) {
	marks := &markRecorder{err: errors.New("locked")}
	r := NewReplay(store.Operation{ID: "op1"}, memory.New(), WithMarker(marks))

	err := r.Step(context.Background(), "header", func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.True(t, r.Done("header"))
}

func TestReplay_CompensateRunsNewestFirst(t *testing.T) {
	r := NewReplay(store.Operation{}, memory.New())

	var undone []string
	for _, name := range []string{"header", "item:1", "stock:1"} {
		name := name
		err := r.StepWithUndo(context.Background(), name,
			func(context.Context) error { return nil },
			func(context.Context) error {
				undone = append(undone, name)
				return nil
			})
		require.NoError(t, err)
	}

	require.NoError(t, r.Compensate(context.Background()))
	assert.Equal(t, []string{"stock:1", "item:1", "header"}, undone)

	require.NoError(t, r.Compensate(context.Background()), "second call is a no-op")
	assert.Len(t, undone, 3)
}

func TestAggregateHandler_CompensatesOnline(t *testing.T) {
	backend := memory.New()
	backend.Seed(record.Products, record.Record{"id": "p1", "tenant_id": tenant, "quantity": 5})
	backend.Seed(record.Products, record.Record{"id": "p2", "tenant_id": tenant, "quantity": 1})

	op := store.Operation{
		Type: store.OpCreate, Table: record.Sales, TenantID: tenant,
		Payload: sale("sale-1", saleItem("i1", "p1", 2), saleItem("i2", "p2", 3)),
	}
	r := NewReplay(op, backend)
	err := AggregateHandler{AdjustStock: true}.Replay(context.Background(), r)
	require.Error(t, err)

	require.NoError(t, r.Compensate(context.Background()))
	assert.Empty(t, backend.Rows(record.Sales))
	assert.Empty(t, backend.Rows(record.SaleItems))
	row, _ := backend.Get(record.Products, "p1")
	q, _ := row.Int64(record.KeyQuantity)
	assert.Equal(t, int64(5), q)
}

func TestFlatHandler_ResultCarriesConfirmedRow(t *testing.T) {
	backend := memory.New()
	op := store.Operation{
		Type: store.OpCreate, Table: record.Products, TenantID: tenant,
		Payload: record.Record{"id": "temp_x", "name": "Widget", "_sync": "pending"},
	}
	r := NewReplay(op, backend)
	require.NoError(t, FlatHandler{}.Replay(context.Background(), r))

	assert.Equal(t, "x", r.Result().ID())
	assert.Equal(t, tenant, r.Result().String("tenant_id"))
}
