package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// Step names shared by the handlers.
const (
	StepInsert = "insert"
	StepUpdate = "update"
	StepDelete = "delete"
	StepUpsert = "upsert"
	StepStock  = "stock"
	StepHeader = "header"
)

// KeyQuantityDelta carries a signed stock change in a queued products update.
const KeyQuantityDelta = "quantity_delta"

// KeyItems holds the line items of an aggregate payload.
const KeyItems = "items"

// ItemStep names the insert step of one line item.
func ItemStep(itemID string) string { return "item:" + itemID }

// StockStep names the stock delta step of one sale line item.
func StockStep(itemID string) string { return "stock:" + itemID }

// ErrUnknownTable is returned for operations whose table has no handler.
var ErrUnknownTable = errors.New("no replay handler for table")

// Handler replays one queued operation against the backend.
type Handler interface {
	Replay(ctx context.Context, r *Replay) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r *Replay) error

func (f HandlerFunc) Replay(ctx context.Context, r *Replay) error {
	return f(ctx, r)
}

// Registry maps tables to their replay handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[record.Table]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[record.Table]Handler)}
}

// Register sets the handler for table, replacing any previous one.
func (r *Registry) Register(table record.Table, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[table] = h
}

// Lookup returns the handler for table.
func (r *Registry) Lookup(table record.Table) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[table]
	return h, ok
}

// DefaultRegistry returns the handlers for every known table.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []record.Table{
		record.Products, record.Customers, record.Suppliers,
		record.SaleItems, record.QuotationItems, record.SpecialOrderItems,
	} {
		r.Register(t, FlatHandler{})
	}
	r.Register(record.CompanySettings, FlatHandler{Upsert: true})
	r.Register(record.Sales, AggregateHandler{AdjustStock: true})
	r.Register(record.Quotations, AggregateHandler{})
	r.Register(record.SpecialOrders, AggregateHandler{})
	return r
}

// FlatHandler replays operations on single-row tables.
//
// Creates treat a duplicate identity as success. Deletes treat a missing row
// as success. A products update carrying quantity_delta applies it through
// the backend's atomic stock update before the remaining fields.
type FlatHandler struct {
	// Upsert replays creates and updates as upserts.
	Upsert bool
}

func (h FlatHandler) Replay(ctx context.Context, r *Replay) error {
	op := r.Op
	wire := op.Payload.Wire()
	if !wire.Has(record.KeyTenantID) && op.TenantID != "" && op.Type != store.OpDelete {
		wire[record.KeyTenantID] = op.TenantID
	}

	switch {
	case op.Type == store.OpDelete:
		return r.Step(ctx, StepDelete, func(ctx context.Context) error {
			err := r.Backend.Delete(ctx, op.Table, wire.ID(), op.TenantID)
			if remote.IsNotFound(err) {
				return nil
			}
			return err
		})

	case h.Upsert:
		return r.Step(ctx, StepUpsert, func(ctx context.Context) error {
			row, err := r.Backend.Upsert(ctx, op.Table, wire)
			if err == nil {
				r.SetResult(row)
			}
			return err
		})

	case op.Type == store.OpCreate:
		return r.StepWithUndo(ctx, StepInsert, func(ctx context.Context) error {
			row, err := r.Backend.Insert(ctx, op.Table, wire)
			if remote.IsDuplicate(err) {
				r.SetResult(wire)
				return nil
			}
			if err == nil {
				r.SetResult(row)
			}
			return err
		}, func(ctx context.Context) error {
			return r.Backend.Delete(ctx, op.Table, wire.ID(), op.TenantID)
		})

	case op.Type == store.OpUpdate:
		return h.update(ctx, r, wire)
	}
	return fmt.Errorf("unsupported operation type %q", op.Type)
}

func (h FlatHandler) update(ctx context.Context, r *Replay, wire record.Record) error {
	op := r.Op
	id := wire.ID()
	fields := wire.Without(record.KeyID, record.KeyTenantID, KeyQuantityDelta)
	result := record.Record{record.KeyID: id}

	if delta, ok := wire.Int64(KeyQuantityDelta); ok && delta != 0 {
		err := r.StepWithUndo(ctx, StepStock, func(ctx context.Context) error {
			q, err := r.Backend.AdjustStock(ctx, id, delta, op.TenantID)
			if err == nil {
				result[record.KeyQuantity] = q
			}
			return err
		}, func(ctx context.Context) error {
			_, err := r.Backend.AdjustStock(ctx, id, -delta, op.TenantID)
			return err
		})
		if err != nil {
			return err
		}
	}

	if len(fields) > 0 {
		err := r.Step(ctx, StepUpdate, func(ctx context.Context) error {
			row, err := r.Backend.Update(ctx, op.Table, id, op.TenantID, fields)
			if err == nil {
				result = result.Merge(row)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	r.SetResult(result)
	return nil
}

// AggregateHandler replays creates of header tables with line items
// (sales, quotations, special orders): the header row first, then each item
// referencing the header, then, for sales, one negative stock delta per item.
// Updates and deletes address the header row only and replay like FlatHandler.
type AggregateHandler struct {
	// AdjustStock decrements product stock for every line item.
	AdjustStock bool
}

func (h AggregateHandler) Replay(ctx context.Context, r *Replay) error {
	op := r.Op
	if op.Type != store.OpCreate {
		return FlatHandler{}.Replay(ctx, r)
	}

	itemTable, ok := record.ItemTables[op.Table]
	if !ok {
		return fmt.Errorf("%s has no item table", op.Table)
	}
	parentKey := record.ParentKeys[itemTable]

	header := op.Payload.Wire().Without(KeyItems)
	if !header.Has(record.KeyTenantID) {
		header[record.KeyTenantID] = op.TenantID
	}
	headerID := header.ID()

	err := r.StepWithUndo(ctx, StepHeader, func(ctx context.Context) error {
		_, err := r.Backend.Insert(ctx, op.Table, header)
		if remote.IsDuplicate(err) {
			return nil
		}
		return err
	}, func(ctx context.Context) error {
		return r.Backend.Delete(ctx, op.Table, headerID, op.TenantID)
	})
	if err != nil {
		return err
	}

	items := op.Payload.Records(KeyItems)
	wireItems := make([]record.Record, 0, len(items))
	for _, it := range items {
		item := it.Wire()
		item[parentKey] = headerID
		if !item.Has(record.KeyTenantID) {
			item[record.KeyTenantID] = op.TenantID
		}
		itemID := item.ID()
		if itemID == "" {
			return fmt.Errorf("%s item without id", op.Table)
		}

		err := r.StepWithUndo(ctx, ItemStep(itemID), func(ctx context.Context) error {
			_, err := r.Backend.Insert(ctx, itemTable, item)
			if remote.IsDuplicate(err) {
				return nil
			}
			return err
		}, func(ctx context.Context) error {
			return r.Backend.Delete(ctx, itemTable, itemID, op.TenantID)
		})
		if err != nil {
			return err
		}
		wireItems = append(wireItems, item)
	}

	if h.AdjustStock {
		for _, item := range wireItems {
			productID := item.String("product_id")
			qty, ok := item.Int64(record.KeyQuantity)
			if productID == "" || !ok || qty == 0 {
				continue
			}
			err := r.StepWithUndo(ctx, StockStep(item.ID()), func(ctx context.Context) error {
				_, err := r.Backend.AdjustStock(ctx, productID, -qty, op.TenantID)
				return err
			}, func(ctx context.Context) error {
				_, err := r.Backend.AdjustStock(ctx, productID, qty, op.TenantID)
				return err
			})
			if err != nil {
				return err
			}
		}
	}

	result := header.Clone()
	result[KeyItems] = wireItems
	r.SetResult(result)
	return nil
}
