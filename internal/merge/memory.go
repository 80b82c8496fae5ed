package merge

import (
	"context"
	"sync"
)

// MemoryBackend keeps state in a map.
type MemoryBackend struct {
	mu     sync.Mutex
	states map[Key]State
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{states: make(map[Key]State)}
}

// Put registers a record.
func (b *MemoryBackend) Put(key Key, st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[key] = st.Clone()
}

func (b *MemoryBackend) LoadState(_ context.Context, key Key) (State, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[key]
	if !ok {
		return State{}, false, nil
	}
	return st.Clone(), true, nil
}

func (b *MemoryBackend) SaveState(_ context.Context, key Key, st State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[key] = st.Clone()
	return nil
}
