// Package network tracks connectivity and drives automatic sync.
//
// A transition to online starts a short debounce timer; when it fires and the
// client is still online with operations queued, one sync pass is requested.
// Going offline during the debounce cancels it.
package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/status"
)

// DefaultDebounce is the delay between a transition to online and the
// automatic sync it triggers.
const DefaultDebounce = time.Second

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) (reconcile.Result, error)
}

// PendingCounter reports how many operations are queued.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Pinger probes the remote backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor owns connectivity transitions.
type Monitor struct {
	tracker  *status.Tracker
	syncer   Syncer
	pending  PendingCounter
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce sets the delay before an automatic sync.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor. Automatic syncs run on a context that Stop cancels.
// A nil pending counter disables automatic syncs.
func New(tracker *status.Tracker, syncer Syncer, pending PendingCounter, opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		tracker:  tracker,
		syncer:   syncer,
		pending:  pending,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the current connectivity.
func (m *Monitor) Online() bool {
	return m.tracker.Online()
}

// SetOnline records a connectivity signal. Repeating the current value is a
// no-op; a transition to online schedules an automatic sync.
func (m *Monitor) SetOnline(online bool) {
	if !m.tracker.SetOnline(online) {
		return
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if online && m.ctx.Err() == nil {
		m.timer = time.AfterFunc(m.debounce, m.fire)
	}
}

// SyncNow runs a manual sync. It fails with reconcile.ErrOffline while
// offline and with reconcile.ErrSyncInProgress if a pass is running.
func (m *Monitor) SyncNow(ctx context.Context) (reconcile.Result, error) {
	return m.syncer.Sync(ctx)
}

// Run probes pinger every interval, feeding the result into SetOnline, until
// ctx ends. A probe answered with a definitive error still counts as online.
func (m *Monitor) Run(ctx context.Context, pinger Pinger, interval time.Duration) error {
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := pinger.Ping(pctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		m.SetOnline(err == nil || !remote.IsTransient(err))
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			probe()
		}
	}
}

// Stop cancels any scheduled sync and waits for a running one to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.cancel()
	m.mu.Unlock()
	m.running.Wait()
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.running.Add(1)
	m.mu.Unlock()
	defer m.running.Done()

	if !m.tracker.Online() || m.tracker.Syncing() || m.pending == nil {
		return
	}
	n, err := m.pending.PendingCount(m.ctx)
	if err != nil {
		m.logger.Warn("failed to count pending operations", zap.Error(err))
		return
	}
	if n == 0 {
		m.logger.Debug("online with nothing queued")
		return
	}

	res, err := m.syncer.Sync(m.ctx)
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress), errors.Is(err, reconcile.ErrOffline):
		m.logger.Debug("automatic sync skipped", zap.Error(err))
	case err != nil:
		m.logger.Warn("automatic sync failed", zap.Error(err))
	default:
		m.logger.Info("automatic sync finished",
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
	}
}
