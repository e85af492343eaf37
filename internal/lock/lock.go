// Package lock provides keyed mutual exclusion.
package lock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// MutexMap serializes callers that share a key while letting distinct keys
// proceed in parallel. Entries are dropped once no caller holds or awaits them.
type MutexMap struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewMutexMap() *MutexMap {
	return &MutexMap{entries: make(map[string]*entry)}
}

func (m *MutexMap) Lock(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		panic("lock: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	e.mu.Unlock()
}

// With runs fn while holding the lock for key.
func (m *MutexMap) With(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

// Len returns the number of keys currently held or awaited.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
