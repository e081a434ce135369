package clients

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no live entry matches a lookup.
var ErrNotFound = errors.New("client not found")

// Conn is the transport half of a registry entry. The registry never closes
// a Conn itself; whoever evicts an entry decides what happens to it.
type Conn interface {
	Send(ctx context.Context, message string) error
	Close() error
}

// Entry is one live client connection plus its source address. Identity is
// the entry pointer, so two sessions from the same address are distinct
// entries even though only one of them is retained.
type Entry struct {
	ID          string
	Addr        string
	Conn        Conn
	ConnectedAt time.Time
}

// NewEntry creates an entry with a fresh session ID.
func NewEntry(conn Conn, addr string) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		Addr:        addr,
		Conn:        conn,
		ConnectedAt: time.Now().UTC(),
	}
}

// Registry is the in-memory set of live client connections. All methods are
// safe for concurrent use; critical sections never perform I/O.
type Registry struct {
	mu      sync.RWMutex
	entries map[*Entry]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*Entry]struct{})}
}

// Add inserts e. Adding an entry that is already present is a no-op.
func (r *Registry) Add(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e] = struct{}{}
}

// EvictByAddress removes every entry for addr and returns them.
func (r *Registry) EvictByAddress(addr string) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked(addr)
}

// Replace evicts all entries sharing e's address and adds e in one critical
// section, so concurrent reconnects from one address can never leave two
// entries behind. The evicted entries are returned for the caller to close.
func (r *Registry) Replace(e *Entry) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := r.evictLocked(e.Addr)
	r.entries[e] = struct{}{}
	return evicted
}

func (r *Registry) evictLocked(addr string) []*Entry {
	var evicted []*Entry
	for e := range r.entries {
		if e.Addr == addr {
			evicted = append(evicted, e)
			delete(r.entries, e)
		}
	}
	return evicted
}

// Remove deletes e and reports whether it was present. Removing an absent
// entry is not an error.
func (r *Registry) Remove(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e]; !ok {
		return false
	}
	delete(r.entries, e)
	return true
}

// RemoveAll deletes every entry in es and returns how many were present.
func (r *Registry) RemoveAll(es []*Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range es {
		if _, ok := r.entries[e]; ok {
			delete(r.entries, e)
			n++
		}
	}
	return n
}

// Snapshot returns a point-in-time copy of the entries in no particular order.
func (r *Registry) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Addresses returns the source address of every entry.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for e := range r.entries {
		out = append(out, e.Addr)
	}
	return out
}

// HasAddress reports whether any live entry comes from addr.
func (r *Registry) HasAddress(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for e := range r.entries {
		if e.Addr == addr {
			return true
		}
	}
	return false
}

// Size returns the number of live entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
