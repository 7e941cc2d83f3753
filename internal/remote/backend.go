package remote

import (
	"context"

	"github.com/MarquesJr132/stock-system/internal/record"
)

// Backend is the authoritative system of record.
//
// Every method is tenant scoped; an empty tenantID is only accepted by
// operations that read it from the record itself (Insert and Upsert).
// Implementations must be safe for concurrent use.
type Backend interface {
	// Select returns every row of table belonging to tenantID.
	Select(ctx context.Context, table record.Table, tenantID string) ([]record.Record, error)

	// Insert creates rec and returns the stored row.
	// Returns a DUPLICATE error if a row with the same id exists.
	Insert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error)

	// Update applies fields to the row identified by id and returns it.
	// Returns a NOT_FOUND error if no such row exists for tenantID.
	Update(ctx context.Context, table record.Table, id, tenantID string, fields record.Record) (record.Record, error)

	// Delete removes the row identified by id.
	// Returns a NOT_FOUND error if no such row exists for tenantID.
	Delete(ctx context.Context, table record.Table, id, tenantID string) error

	// Upsert inserts rec or, when a row with the same id exists, overwrites
	// the fields it carries.
	Upsert(ctx context.Context, table record.Table, rec record.Record) (record.Record, error)

	// AdjustStock atomically adds delta to the product's quantity and returns
	// the new quantity. A delta that would leave the quantity negative is
	// rejected with INSUFFICIENT_STOCK and has no effect.
	AdjustStock(ctx context.Context, productID string, delta int64, tenantID string) (int64, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
