// Package presence tracks which users currently hold a live connection.
package presence

import (
	"sync"
)

// Handle is a live connection a user can be reached on. Send reports whether
// the event was queued for delivery.
type Handle interface {
	Send(event string, data any) bool
}

// Registry maps a user id to its current connection handle. At most one
// handle is stored per user; the most recent SetOnline wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Handle

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Handle),
		locks:   make(map[string]*userLock),
	}
}

// LockUser serializes presence transitions for userId. Callers hold it across
// the registry change and everything that mirrors it, and must call the
// returned func to release it.
func (r *Registry) LockUser(userId string) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[userId]
	if !ok {
		l = &userLock{}
		r.locks[userId] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, userId)
		}
		r.locksMu.Unlock()
	}
}

// SetOnline records h as the connection for userId and returns the handle it
// replaced, if any.
func (r *Registry) SetOnline(userId string, h Handle) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.entries[userId]
	r.entries[userId] = h
	return prev, ok
}

// ClearOnline removes the entry for userId only if it still points at h.
// It reports whether an entry was removed.
func (r *Registry) ClearOnline(userId string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userId]
	if !ok || current != h {
		return false
	}

	delete(r.entries, userId)
	return true
}

func (r *Registry) Lookup(userId string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.entries[userId]
	return h, ok
}

// Len returns the number of users currently online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
