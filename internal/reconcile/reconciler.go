package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/status"
	"github.com/MarquesJr132/stock-system/internal/store"
)

var (
	// ErrOffline is returned when a sync is requested without connectivity.
	ErrOffline = errors.New("cannot sync while offline")

	// ErrSyncInProgress is returned when a pass is already running. The
	// request is dropped, not queued.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// OperationLog is the part of the local store the reconciler drains.
type OperationLog interface {
	StepMarker
	ListOperations(ctx context.Context) ([]store.Operation, error)
	RemoveOperation(ctx context.Context, id string) error
	PendingCount(ctx context.Context) (int, error)
}

// LastSyncStore persists the time of the last completed pass.
type LastSyncStore interface {
	SetLastSync(ctx context.Context, t time.Time) error
}

// Refresher reloads table snapshots from the backend after a pass.
type Refresher interface {
	Refresh(ctx context.Context, tables ...record.Table) error
}

// Result summarizes one pass.
type Result struct {
	Attempted int      `json:"attempted" yaml:"attempted"`
	Succeeded int      `json:"succeeded" yaml:"succeeded"`
	Failed    int      `json:"failed" yaml:"failed"`
	Errors    []string `json:"errors" yaml:"errors"`
}

// Reconciler replays the operation log against the backend.
type Reconciler struct {
	log       OperationLog
	backend   remote.Backend
	tracker   *status.Tracker
	registry  *Registry
	refresher Refresher
	meta      LastSyncStore
	logger    *zap.Logger
	now       func() time.Time
	timeout   time.Duration

	removeAttempts int
	removeBackoff  time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRegistry replaces the default handler registry.
func WithRegistry(reg *Registry) Option {
	return func(r *Reconciler) { r.registry = reg }
}

// WithRefresher sets the component that reloads snapshots after a pass.
func WithRefresher(ref Refresher) Option {
	return func(r *Reconciler) { r.refresher = ref }
}

// WithLastSyncStore persists the pass completion time.
func WithLastSyncStore(m LastSyncStore) Option {
	return func(r *Reconciler) { r.meta = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithOperationTimeout bounds the replay of each operation.
func WithOperationTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

// New creates a reconciler draining log into backend. A nil log makes every
// pass a no-op, for clients running without local storage.
func New(log OperationLog, backend remote.Backend, tracker *status.Tracker, opts ...Option) *Reconciler {
	r := &Reconciler{
		log:            log,
		backend:        backend,
		tracker:        tracker,
		registry:       DefaultRegistry(),
		logger:         zap.NewNop(),
		now:            time.Now,
		removeAttempts: 3,
		removeBackoff:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the handler registry, shared with the online write path.
func (r *Reconciler) Registry() *Registry {
	return r.registry
}

// Sync runs one pass over the operation log.
//
// It returns ErrOffline without connectivity and ErrSyncInProgress if a pass
// is already running. With nothing queued, or no log at all, it returns an
// empty Result and leaves the status untouched. Replay failures do not make
// Sync fail: they are reported in the Result and the tracker, and the
// operations stay queued.
func (r *Reconciler) Sync(ctx context.Context) (Result, error) {
	res := Result{Errors: []string{}}
	if !r.tracker.Online() {
		return res, ErrOffline
	}
	if r.tracker.Syncing() {
		return res, ErrSyncInProgress
	}
	if r.log == nil {
		return res, nil
	}
	if n, err := r.log.PendingCount(ctx); err == nil && n == 0 {
		return res, nil
	}
	if !r.tracker.BeginSync() {
		return res, ErrSyncInProgress
	}

	ops, err := r.log.ListOperations(ctx)
	if err != nil {
		prev := r.tracker.Snapshot()
		r.tracker.EndSync(prev.LastSync, prev.PendingCount, []string{err.Error()})
		return res, fmt.Errorf("sync: %w", err)
	}

	r.logger.Info("sync pass started", zap.Int("pending", len(ops)))
	touched := make(map[record.Table]bool)

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		if err := r.replay(ctx, op); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", op.Table, op.Type, err))
			r.logger.Warn("replay failed",
				zap.String("op_id", op.ID),
				zap.String("table", string(op.Table)),
				zap.String("type", string(op.Type)),
				zap.Error(err),
			)
			continue
		}

		r.remove(ctx, op.ID)
		res.Succeeded++
		for _, t := range affectedTables(op) {
			touched[t] = true
		}
		r.logger.Debug("operation replayed",
			zap.String("op_id", op.ID),
			zap.String("table", string(op.Table)),
			zap.String("type", string(op.Type)),
		)
	}

	at := r.now()
	if r.meta != nil {
		if err := r.meta.SetLastSync(ctx, at); err != nil {
			r.logger.Warn("failed to persist last sync", zap.Error(err))
		}
	}

	if res.Succeeded > 0 && r.refresher != nil {
		tables := make([]record.Table, 0, len(touched))
		for _, t := range record.AllTables {
			if touched[t] {
				tables = append(tables, t)
			}
		}
		if err := r.refresher.Refresh(ctx, tables...); err != nil {
			r.logger.Warn("post-sync refresh failed", zap.Error(err))
		}
	}

	pending, err := r.log.PendingCount(ctx)
	if err != nil {
		r.logger.Warn("failed to count pending operations", zap.Error(err))
		pending = len(ops) - res.Succeeded
	}
	r.tracker.EndSync(at, pending, res.Errors)

	r.logger.Info("sync pass finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("pending", pending),
	)
	return res, nil
}

func (r *Reconciler) replay(ctx context.Context, op store.Operation) error {
	h, ok := r.registry.Lookup(op.Table)
	if !ok {
		r.logger.Warn("no replay handler, operation stays queued",
			zap.String("op_id", op.ID),
			zap.String("table", string(op.Table)),
		)
		return fmt.Errorf("%w: %s", ErrUnknownTable, op.Table)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rp := NewReplay(op, r.backend, WithMarker(r.log), WithReplayLogger(r.logger))
	return h.Replay(ctx, rp)
}

// remove deletes a replayed operation, retrying a few times. An operation
// that cannot be removed is replayed again on the next pass.
func (r *Reconciler) remove(ctx context.Context, id string) {
	var err error
	for attempt := 1; ; attempt++ {
		if err = r.log.RemoveOperation(ctx, id); err == nil {
			return
		}
		if attempt >= r.removeAttempts || !sleepCtx(ctx, time.Duration(attempt)*r.removeBackoff) {
			break
		}
	}
	r.logger.Error("replayed operation could not be removed from the log",
		zap.String("op_id", id),
		zap.Error(err),
	)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// affectedTables lists the snapshots a replayed operation may have changed.
func affectedTables(op store.Operation) []record.Table {
	tables := []record.Table{op.Table}
	if items, ok := record.ItemTables[op.Table]; ok && op.Type == store.OpCreate {
		tables = append(tables, items)
	}
	if op.Table == record.Sales && op.Type == store.OpCreate {
		tables = append(tables, record.Products)
	}
	return tables
}
