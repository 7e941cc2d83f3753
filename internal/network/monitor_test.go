package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/status"
)

type fakeSyncer struct {
	calls   atomic.Int32
	tracker *status.Tracker
	block   chan struct{}
}

func (s *fakeSyncer) Sync(ctx context.Context) (reconcile.Result, error) {
	if !s.tracker.Online() {
		return reconcile.Result{}, reconcile.ErrOffline
	}
	if !s.tracker.BeginSync() {
		return reconcile.Result{}, reconcile.ErrSyncInProgress
	}
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}
	s.tracker.EndSync(time.Now(), 0, nil)
	return reconcile.Result{Attempted: 1, Succeeded: 1}, nil
}

type fixedPending int

func (p fixedPending) PendingCount(context.Context) (int, error) { return int(p), nil }

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

const debounce = 10 * time.Millisecond

func newMonitor(t *testing.T, pending int) (*Monitor, *fakeSyncer, *status.Tracker) {
	t.Helper()
	tracker := status.New(false, time.Time{})
	syncer := &fakeSyncer{tracker: tracker}
	m := New(tracker, syncer, fixedPending(pending), WithDebounce(debounce))
	t.Cleanup(m.Stop)
	return m, syncer, tracker
}

func TestMonitor_TransitionOnlineTriggersOneSync(t *testing.T) {
	m, syncer, _ := newMonitor(t, 2)

	m.SetOnline(true)
	m.SetOnline(true)

	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(5 * debounce)
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestMonitor_NothingQueuedNoSync(t *testing.T) {
	m, syncer, _ := newMonitor(t, 0)

	m.SetOnline(true)
	time.Sleep(5 * debounce)

	assert.Zero(t, syncer.calls.Load())
}

func TestMonitor_WithoutLocalQueueNoAutoSync(t *testing.T) {
	tracker := status.New(false, time.Time{})
	syncer := &fakeSyncer{tracker: tracker}
	m := New(tracker, syncer, nil, WithDebounce(debounce))
	defer m.Stop()

	m.SetOnline(true)
	time.Sleep(5 * debounce)

	assert.Zero(t, syncer.calls.Load())
	assert.True(t, tracker.Online())
}

func TestMonitor_OfflineDuringDebounceCancels(t *testing.T) {
	tracker := status.New(false, time.Time{})
	syncer := &fakeSyncer{tracker: tracker}
	m := New(tracker, syncer, fixedPending(1), WithDebounce(50*time.Millisecond))
	defer m.Stop()

	m.SetOnline(true)
	m.SetOnline(false)
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, syncer.calls.Load())
}

func TestMonitor_FlappingCollapsesToOneSync(t *testing.T) {
	m, syncer, _ := newMonitor(t, 1)

	for i := 0; i < 5; i++ {
		m.SetOnline(true)
		m.SetOnline(false)
	}
	m.SetOnline(true)

	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(5 * debounce)
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestMonitor_SyncNow(t *testing.T) {
	m, syncer, tracker := newMonitor(t, 0)

	_, err := m.SyncNow(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrOffline)

	tracker.SetOnline(true)
	res, err := m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	require.True(t, tracker.BeginSync())
	_, err = m.SyncNow(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrSyncInProgress)
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestMonitor_AutoSyncSkippedWhileSyncing(t *testing.T) {
	m, syncer, tracker := newMonitor(t, 3)
	require.True(t, tracker.BeginSync())

	m.SetOnline(true)
	time.Sleep(5 * debounce)

	assert.Zero(t, syncer.calls.Load())
}

func TestMonitor_Run(t *testing.T) {
	m, syncer, tracker := newMonitor(t, 1)
	pinger := &fakePinger{err: remote.NewError(remote.CodeUnavailable, "", "down")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, pinger, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, tracker.Online())

	pinger.set(nil)
	require.Eventually(t, tracker.Online, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, time.Millisecond)

	pinger.set(errors.New("unexpected reply"))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, tracker.Online(), "a definitive answer means the backend is reachable")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMonitor_StopWaitsForRunningSync(t *testing.T) {
	tracker := status.New(false, time.Time{})
	syncer := &fakeSyncer{tracker: tracker, block: make(chan struct{})}
	m := New(tracker, syncer, fixedPending(1), WithDebounce(debounce))

	m.SetOnline(true)
	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after cancelling the running sync")
	}
	assert.False(t, tracker.Syncing())
}
