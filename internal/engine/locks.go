package engine

import (
	"slices"
	"sync"
)

// FolderLocks marks folders engaged in a pull or publish. Acquisition is
// all-or-nothing and never waits: a request touching a held folder is
// rejected so the caller can surface "sync in progress".
type FolderLocks struct {
	mu      sync.Mutex
	holders map[string]string // folder id -> holder (pipeline id or job label)
}

// NewFolderLocks creates an empty lock table.
func NewFolderLocks() *FolderLocks {
	return &FolderLocks{holders: make(map[string]string)}
}

// TryAcquire locks every folder in folderIDs for holder. If any folder is
// held by someone else, nothing is locked and a FOLDER_LOCKED error names
// the first conflicting folder in sorted order. Locks are not reentrant: a
// folder already held, even by holder itself, is a conflict.
func (l *FolderLocks) TryAcquire(holder string, folderIDs ...string) error {
	ids := slices.Clone(folderIDs)
	slices.Sort(ids)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if h, held := l.holders[id]; held {
			return NewLockedError(id, h)
		}
	}
	for _, id := range ids {
		l.holders[id] = holder
	}
	return nil
}

// Release unlocks every folder held by holder.
func (l *FolderLocks) Release(holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, h := range l.holders {
		if h == holder {
			delete(l.holders, id)
		}
	}
}

// Holder reports who holds a folder.
func (l *FolderLocks) Holder(folderID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holders[folderID]
	return h, ok
}

// Locked returns the ids of all held folders, sorted.
func (l *FolderLocks) Locked() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.holders))
	for id := range l.holders {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
