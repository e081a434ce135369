package httpapi

import (
	"sync"
	"sync/atomic"
)

// SessionTracker counts running WebSocket sessions and supports graceful
// draining. When draining is enabled, new connections are rejected while
// running sessions are shut down.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(), preventing
// a TOCTOU race where StartDraining+Wait could be called between the draining
// check and wg.Add.
type SessionTracker struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewSessionTracker creates a new SessionTracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{}
}

// Add registers a new session. Returns false if the tracker is draining,
// meaning the connection should be refused.
func (st *SessionTracker) Add() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.draining {
		return false
	}
	st.wg.Add(1)
	st.count.Add(1)
	return true
}

// Done marks a session as finished. Must be called exactly once per successful Add.
func (st *SessionTracker) Done() {
	st.count.Add(-1)
	st.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
func (st *SessionTracker) StartDraining() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.draining = true
}

// IsDraining reports whether the tracker is in draining mode.
func (st *SessionTracker) IsDraining() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.draining
}

// ActiveCount returns the number of running sessions.
func (st *SessionTracker) ActiveCount() int64 {
	return st.count.Load()
}

// Wait blocks until every session has finished.
func (st *SessionTracker) Wait() {
	st.wg.Wait()
}
