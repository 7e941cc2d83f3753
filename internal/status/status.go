// Package status holds the process-wide Sync Status: connectivity, the
// in-flight sync flag, the last completed pass, the pending count and the
// errors of the last pass.
//
// One Tracker is created at startup and passed to the components that mutate
// it (network monitor, reconciler, data service). Everyone else reads
// Snapshot or subscribes.
package status

import (
	"sync"
	"time"
)

// Status is a read-only projection of the tracker state.
type Status struct {
	IsOnline     bool      `json:"is_online" yaml:"is_online"`
	IsSyncing    bool      `json:"is_syncing" yaml:"is_syncing"`
	LastSync     time.Time `json:"last_sync" yaml:"last_sync"`
	PendingCount int       `json:"pending_count" yaml:"pending_count"`
	SyncErrors   []string  `json:"sync_errors" yaml:"sync_errors"`
}

// Listener is called with the new status after every change.
type Listener func(Status)

// Tracker owns the mutable Sync Status. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	st        Status
	listeners map[int]Listener
	nextID    int
}

// New creates a tracker seeded with the connectivity and last sync known at
// startup.
func New(online bool, lastSync time.Time) *Tracker {
	return &Tracker{
		st:        Status{IsOnline: online, LastSync: lastSync, SyncErrors: []string{}},
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.copy()
}

// Online reports the current connectivity.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.IsOnline
}

// Syncing reports whether a sync pass is in flight.
func (t *Tracker) Syncing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.IsSyncing
}

// SetOnline records connectivity and reports whether it changed.
func (t *Tracker) SetOnline(online bool) bool {
	return t.update(func(s *Status) bool {
		if s.IsOnline == online {
			return false
		}
		s.IsOnline = online
		return true
	})
}

// BeginSync moves Idle to Syncing. It returns false, leaving the state
// untouched, if a pass is already in flight.
func (t *Tracker) BeginSync() bool {
	return t.update(func(s *Status) bool {
		if s.IsSyncing {
			return false
		}
		s.IsSyncing = true
		return true
	})
}

// EndSync moves Syncing back to Idle and publishes the outcome of the pass.
func (t *Tracker) EndSync(at time.Time, pending int, errs []string) {
	if errs == nil {
		errs = []string{}
	}
	t.update(func(s *Status) bool {
		s.IsSyncing = false
		s.LastSync = at
		s.PendingCount = pending
		s.SyncErrors = append([]string(nil), errs...)
		return true
	})
}

// SetPending records the number of queued operations.
func (t *Tracker) SetPending(n int) {
	t.update(func(s *Status) bool {
		if s.PendingCount == n {
			return false
		}
		s.PendingCount = n
		return true
	})
}

// Subscribe registers l and returns a function that removes it.
// Listeners run synchronously on the goroutine that made the change, after
// the tracker lock is released.
func (t *Tracker) Subscribe(l Listener) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// update applies fn under the lock and notifies listeners if fn reports a
// change.
func (t *Tracker) update(fn func(*Status) bool) bool {
	t.mu.Lock()
	changed := fn(&t.st)
	if !changed {
		t.mu.Unlock()
		return false
	}
	snap := t.st.copy()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return true
}

func (s Status) copy() Status {
	out := s
	out.SyncErrors = append([]string{}, s.SyncErrors...)
	return out
}
