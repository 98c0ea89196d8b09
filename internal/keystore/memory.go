package keystore

import "sync/atomic"

// Memory is the in-memory backend. ReplaceAll performs the atomic
// immutable-map swap: readers always see either
// the old or the new snapshot in full, never a partial update.
type Memory struct {
	snap atomic.Pointer[Snapshot]
}

// NewMemory constructs a Memory store from an initial identity->key map.
func NewMemory(initial map[string][]byte) (*Memory, error) {
	snap, err := NewSnapshot(initial)
	if err != nil {
		return nil, err
	}
	m := &Memory{}
	m.snap.Store(snap)
	return m, nil
}

func (m *Memory) Lookup(identity string) ([]byte, bool) {
	return m.snap.Load().lookup(identity)
}

func (m *Memory) Identities() []string {
	return m.snap.Load().identities()
}

// Reload is a no-op. Unlike File, Memory has no external source to
// re-read from; callers swap in a new map via ReplaceAll, and Reload only
// satisfies the Store interface for callers that treat all backends
// uniformly.
func (m *Memory) Reload() error { return nil }

// ReplaceAll atomically swaps the store's entire contents.
func (m *Memory) ReplaceAll(next map[string][]byte) error {
	snap, err := NewSnapshot(next)
	if err != nil {
		return err
	}
	m.snap.Store(snap)
	return nil
}
