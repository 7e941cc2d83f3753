// Package store provides the SQLite-backed local persistence of the offline
// client.
//
// One database file holds three logical stores:
//   - data: one snapshot blob per table (Local Store)
//   - operations: the queue of mutations awaiting remote confirmation (Operation Log)
//   - metadata: small key/value facts such as the last successful sync
//
// # Guarantees
//
// Snapshot writes replace the whole blob of a table in a single statement, so
// a reader always observes the last complete write (never a partial list).
//
// The operation log is append-only from the point of view of writers:
// Enqueue assigns a strictly increasing seq and ListOperations returns
// entries ORDER BY seq ASC, id ASC. That order is the only ordering
// contract; there is no priority or per-table reordering.
//
// No transaction spans the snapshot and the operation tables. Callers that
// update a snapshot and then enqueue accept the small window between the two.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single open connection: SQLite supports one writer
//
// Snapshot blobs are JSON arrays compressed with snappy.
package store
