// Package record defines the data shapes shared by the local store, the
// operation log, the reconciler and the remote collaborators.
//
// A Record is one row of a business table held as a JSON object. Records are
// schema-light on purpose: the remote backend owns the column set, the client
// only relies on a handful of well-known keys:
//
//   - "id": primary identifier (client-generated or temporary)
//   - "tenant_id": owning tenant
//   - "quantity": stock on hand for products (signed-delta only)
//   - "_sync": provenance tag, "pending" for optimistic writes
//
// Keys starting with an underscore are local-only and are stripped by Wire
// before anything leaves the process.
//
// # Identity
//
// Two identity policies exist (see IdentityPolicy):
//
//   - ClientAssigned: the id generated at creation time is the final id.
//   - Temporary: the local copy carries "temp_<uuid>" and the remote row is
//     created with "<uuid>". ConfirmedID maps one to the other.
//
// Both make replayed creates idempotent because the remote id is fixed
// before the first attempt.
//
// # Numbers
//
// JSON is decoded with UseNumber so integer quantities never lose precision.
// Accessors (Int64, Decimal) accept json.Number, native ints, floats and
// numeric strings, which covers values produced locally, decoded from the
// store, or scanned from SQL drivers.
package record
