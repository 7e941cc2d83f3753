// Package memory implements an in-process remote.Backend.
//
// It keeps rows in insertion order per table and can simulate outages and
// latency, which makes it the collaborator of choice for tests and for
// `stocksync serve --memory`.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
)

// Op names a Backend method, for call counting and fault injection.
type Op string

const (
	OpSelect      Op = "select"
	OpInsert      Op = "insert"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpUpsert      Op = "upsert"
	OpAdjustStock Op = "adjust_stock"
	OpPing        Op = "ping"
)

// FaultFunc may return an error to fail a call before it takes effect.
type FaultFunc func(op Op, table record.Table, rec record.Record) error

type tableRows struct {
	order []string
	rows  map[string]record.Record
}

// Backend is an in-memory remote.Backend. Safe for concurrent use.
type Backend struct {
	mu        sync.Mutex
	tables    map[record.Table]*tableRows
	available bool
	latency   time.Duration
	fault     FaultFunc
	calls     map[Op]int
	now       func() time.Time
}

var _ remote.Backend = (*Backend)(nil)

// New returns an empty, reachable backend.
func New() *Backend {
	return &Backend{
		tables:    make(map[record.Table]*tableRows),
		available: true,
		calls:     make(map[Op]int),
		now:       time.Now,
	}
}

// SetAvailable simulates the backend going down (false) or coming back.
func (b *Backend) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = available
}

// SetLatency delays every call by d, honoring context cancellation.
func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// SetFault installs fn, consulted before every call. nil removes it.
func (b *Backend) SetFault(fn FaultFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = fn
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Seed stores rows as-is, bypassing duplicate checks.
func (b *Backend) Seed(table record.Table, rows ...record.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.table(table)
	for _, r := range rows {
		id := r.ID()
		if _, ok := t.rows[id]; !ok {
			t.order = append(t.order, id)
		}
		t.rows[id] = r.Clone()
	}
}

// Rows returns a copy of every row of table regardless of tenant.
func (b *Backend) Rows(table record.Table) []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table(table).list("")
}

// Get returns a copy of one row.
func (b *Backend) Get(table record.Table, id string) (record.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.table(table).rows[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (b *Backend) Select(ctx context.Context, table record.Table, tenantID string) ([]record.Record, error) {
	if err := b.enter(ctx, OpSelect, table, nil); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table(table).list(tenantID), nil
}

func (b *Backend) Insert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error) {
	if err := b.enter(ctx, OpInsert, table, rec); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	row := rec.Clone()
	if row.ID() == "" {
		row[record.KeyID] = record.NewID()
	}
	t := b.table(table)
	if _, exists := t.rows[row.ID()]; exists {
		return nil, remote.NewError(remote.CodeDuplicate, table, "row %s already exists", row.ID())
	}
	if !row.Has(record.KeyCreatedAt) {
		row[record.KeyCreatedAt] = b.now().UTC().Format(time.RFC3339)
	}
	t.order = append(t.order, row.ID())
	t.rows[row.ID()] = row
	return row.Clone(), nil
}

func (b *Backend) Update(ctx context.Context, table record.Table, id, tenantID string, fields record.Record) (record.Record, error) {
	if err := b.enter(ctx, OpUpdate, table, fields); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	row, err := b.find(table, id, tenantID)
	if err != nil {
		return nil, err
	}
	for k, v := range fields.Without(record.KeyID) {
		row[k] = v
	}
	return row.Clone(), nil
}

func (b *Backend) Delete(ctx context.Context, table record.Table, id, tenantID string) error {
	if err := b.enter(ctx, OpDelete, table, nil); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.find(table, id, tenantID); err != nil {
		return err
	}
	t := b.table(table)
	delete(t.rows, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Backend) Upsert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error) {
	if err := b.enter(ctx, OpUpsert, table, rec); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	row := rec.Clone()
	if row.ID() == "" {
		row[record.KeyID] = record.NewID()
	}
	t := b.table(table)
	if existing, ok := t.rows[row.ID()]; ok {
		merged := existing.Merge(row)
		t.rows[row.ID()] = merged
		return merged.Clone(), nil
	}
	t.order = append(t.order, row.ID())
	t.rows[row.ID()] = row
	return row.Clone(), nil
}

func (b *Backend) AdjustStock(ctx context.Context, productID string, delta int64, tenantID string) (int64, error) {
	if err := b.enter(ctx, OpAdjustStock, record.Products, record.Record{record.KeyID: productID}); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	row, err := b.find(record.Products, productID, tenantID)
	if err != nil {
		return 0, err
	}
	current, _ := row.Int64(record.KeyQuantity)
	next := current + delta
	if next < 0 {
		return 0, remote.NewError(remote.CodeInsufficientStock, record.Products,
			"product %s has %d, cannot apply %d", productID, current, delta)
	}
	row[record.KeyQuantity] = next
	return next, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.enter(ctx, OpPing, "", nil)
}

// enter counts the call, applies latency and availability, then consults the
// fault hook.
func (b *Backend) enter(ctx context.Context, op Op, table record.Table, rec record.Record) error {
	b.mu.Lock()
	b.calls[op]++
	latency := b.latency
	b.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return remote.Unavailable(table, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return remote.Unavailable(table, err)
	}

	b.mu.Lock()
	available, fault := b.available, b.fault
	b.mu.Unlock()

	if !available {
		return remote.NewError(remote.CodeUnavailable, table, "backend offline")
	}
	if table != "" && !table.Known() {
		return remote.NewError(remote.CodeRejected, table, "unknown table")
	}
	if fault != nil {
		return fault(op, table, rec)
	}
	return nil
}

// find returns the stored row (not a copy). Caller must hold mu.
func (b *Backend) find(table record.Table, id, tenantID string) (record.Record, error) {
	row, ok := b.table(table).rows[id]
	if !ok || (tenantID != "" && row.String(record.KeyTenantID) != tenantID) {
		return nil, remote.NewError(remote.CodeNotFound, table, "row %s not found", id)
	}
	return row, nil
}

// table returns the rows of t, creating them on first use. Caller must hold mu.
func (b *Backend) table(t record.Table) *tableRows {
	rows, ok := b.tables[t]
	if !ok {
		rows = &tableRows{rows: make(map[string]record.Record)}
		b.tables[t] = rows
	}
	return rows
}

func (t *tableRows) list(tenantID string) []record.Record {
	out := make([]record.Record, 0, len(t.order))
	for _, id := range t.order {
		row := t.rows[id]
		if tenantID != "" && row.String(record.KeyTenantID) != tenantID {
			continue
		}
		out = append(out, row.Clone())
	}
	return out
}
