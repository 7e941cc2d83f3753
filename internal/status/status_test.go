package status

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SeedsState(t *testing.T) {
	last := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := New(true, last)

	st := tr.Snapshot()
	assert.True(t, st.IsOnline)
	assert.False(t, st.IsSyncing)
	assert.Equal(t, last, st.LastSync)
	assert.NotNil(t, st.SyncErrors)
}

func TestSetOnline_ReportsTransitions(t *testing.T) {
	tr := New(false, time.Time{})

	assert.True(t, tr.SetOnline(true))
	assert.False(t, tr.SetOnline(true), "same value is not a transition")
	assert.True(t, tr.SetOnline(false))
	assert.False(t, tr.Online())
}

func TestBeginSync_SingleFlight(t *testing.T) {
	tr := New(true, time.Time{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.BeginSync() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, tr.Syncing())
}

func TestEndSync_PublishesOutcome(t *testing.T) {
	tr := New(true, time.Time{})
	require.True(t, tr.BeginSync())

	at := time.Now()
	tr.EndSync(at, 2, []string{"sales create: boom"})

	st := tr.Snapshot()
	assert.False(t, st.IsSyncing)
	assert.Equal(t, at, st.LastSync)
	assert.Equal(t, 2, st.PendingCount)
	assert.Equal(t, []string{"sales create: boom"}, st.SyncErrors)
	assert.True(t, tr.BeginSync(), "a new pass may start once the previous one ended")
}

func TestSnapshot_IsACopy(t *testing.T) {
	tr := New(true, time.Time{})
	tr.EndSync(time.Now(), 0, []string{"a"})

	st := tr.Snapshot()
	st.SyncErrors[0] = "mutated"

	assert.Equal(t, []string{"a"}, tr.Snapshot().SyncErrors)
}

func TestSubscribe(t *testing.T) {
	tr := New(false, time.Time{})

	var got []Status
	unsubscribe := tr.Subscribe(func(s Status) { got = append(got, s) })

	tr.SetOnline(true)
	tr.SetOnline(true)
	tr.SetPending(3)
	tr.SetPending(3)

	require.Len(t, got, 2, "only actual changes notify")
	assert.True(t, got[0].IsOnline)
	assert.Equal(t, 3, got[1].PendingCount)

	unsubscribe()
	tr.SetPending(4)
	assert.Len(t, got, 2)
}

func TestSubscribe_ListenerMayReadTracker(t *testing.T) {
	tr := New(false, time.Time{})

	done := make(chan bool, 1)
	tr.Subscribe(func(Status) { done <- tr.Online() })
	tr.SetOnline(true)

	assert.True(t, <-done)
}
