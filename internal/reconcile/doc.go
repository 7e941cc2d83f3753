// Package reconcile drains the operation log against the remote backend.
//
// A pass walks the queued operations once, oldest first, and hands each to
// the Handler registered for its table. Handlers split their work into named
// steps; every confirmed step is persisted on the operation so a retried
// replay never repeats a stock delta that already reached the backend. An
// operation is removed from the log only after all of its steps succeed.
// Failures are collected and the pass moves on to the next operation.
//
// At most one pass runs at a time. Triggers that arrive while a pass is in
// flight are dropped.
package reconcile
