package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownRecord is returned by Model.Update when the backend has no state
// for the key.
var ErrUnknownRecord = errors.New("unknown record")

// Key addresses one local record.
type Key struct {
	FolderID string
	Filename string
}

func (k Key) String() string { return k.FolderID + "/" + k.Filename }

// Backend loads and saves record state.
type Backend interface {
	LoadState(ctx context.Context, key Key) (State, bool, error)
	SaveState(ctx context.Context, key Key, state State) error
}

// Model applies read-modify-write updates to record state. Updates on the
// same key are linearized; updates on distinct keys proceed independently.
type Model struct {
	backend Backend
	locks   KeyedMutex
}

// NewModel wraps backend.
func NewModel(backend Backend) *Model {
	return &Model{backend: backend}
}

// Get loads the state for key.
func (m *Model) Get(ctx context.Context, key Key) (State, error) {
	st, ok, err := m.backend.LoadState(ctx, key)
	if err != nil {
		return State{}, fmt.Errorf("load state %s: %w", key, err)
	}
	if !ok {
		return State{}, fmt.Errorf("load state %s: %w", key, ErrUnknownRecord)
	}
	return st, nil
}

// Update loads the state for key, applies fn and saves the result while
// holding the key's lock. Nothing is saved if fn returns an error.
func (m *Model) Update(ctx context.Context, key Key, fn func(*State) error) (State, error) {
	unlock := m.locks.Lock(key.String())
	defer unlock()

	st, ok, err := m.backend.LoadState(ctx, key)
	if err != nil {
		return State{}, fmt.Errorf("load state %s: %w", key, err)
	}
	if !ok {
		return State{}, fmt.Errorf("update %s: %w", key, ErrUnknownRecord)
	}
	if err := fn(&st); err != nil {
		return State{}, err
	}
	if err := m.backend.SaveState(ctx, key, st); err != nil {
		return State{}, fmt.Errorf("save state %s: %w", key, err)
	}
	return st, nil
}

// WithLock runs fn while holding the lock for key, for callers that touch
// other per-record resources together with the state.
func (m *Model) WithLock(key Key, fn func() error) error {
	unlock := m.locks.Lock(key.String())
	defer unlock()
	return fn()
}

// KeyedMutex hands out one mutex per string key and drops it once no
// holder or waiter remains. The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size reports the number of live key locks.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
