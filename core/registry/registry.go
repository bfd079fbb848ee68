// Package registry implements the arena-indexed registry design note: a
// slice of entries addressed by a stable integer id, with removal by
// tombstoning (nulling the slot) rather than compaction. This replaces the
// raw-pointer SMSCenter/BoxConnection/BBThread graphs of the original
// implementation with simple, race-free, ownership-clear bookkeeping: the
// registry holds entries for enumeration only, never exclusive ownership.
package registry

import "sync"

// ID is a stable handle into a Registry. IDs are never reused after
// Remove, so a caller holding a stale ID safely gets ok == false from Get
// rather than observing a different, later entry.
type ID int

// Registry is a generic, mutex-guarded arena of entries of type T.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []*T // nil slot means "removed"
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Add appends entry and returns its stable ID.
func (r *Registry[T]) Add(entry *T) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return ID(len(r.entries) - 1)
}

// Remove tombstones the slot at id. Safe to call more than once.
func (r *Registry[T]) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < 0 || int(id) >= len(r.entries) {
		return
	}
	r.entries[id] = nil
}

// Get returns the entry at id, or ok == false if id is out of range or has
// been removed.
func (r *Registry[T]) Get(id ID) (*T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(r.entries) || r.entries[id] == nil {
		return nil, false
	}
	return r.entries[id], true
}

// Lock acquires the registry's lock for the duration of a caller-managed
// scan-and-produce operation (e.g. the SMS router's selection pass). Each
// such caller must release with Unlock.
func (r *Registry[T]) Lock() { r.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (r *Registry[T]) Unlock() { r.mu.Unlock() }

// Each calls fn for every live (non-tombstoned) entry, in registry order.
// The caller must already hold the lock (via Lock/Unlock) if it intends to
// mutate entries or the registry concurrently with other goroutines; Each
// itself takes no additional lock so it composes with an outer Lock/Unlock
// pair.
func (r *Registry[T]) Each(fn func(id ID, entry *T)) {
	for i, e := range r.entries {
		if e != nil {
			fn(ID(i), e)
		}
	}
}

// EachLocked is the read-locked convenience form of Each, for callers that
// only need a single atomic enumeration.
func (r *Registry[T]) EachLocked(fn func(id ID, entry *T)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.Each(fn)
}

// Len returns the number of live (non-tombstoned) entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e != nil {
			n++
		}
	}
	return n
}
