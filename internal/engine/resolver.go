package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/store"
)

// indexResolver gives transformers read-only access to local files and the
// file index. Folder rows are cached for the lifetime of one plan or run.
type indexResolver struct {
	store      *store.Store
	workbookID string

	mu      sync.Mutex
	folders map[string]ir.DataFolder
}

func newIndexResolver(s *store.Store, workbookID string) *indexResolver {
	return &indexResolver{store: s, workbookID: workbookID, folders: make(map[string]ir.DataFolder)}
}

// seed primes the folder cache.
func (r *indexResolver) seed(folders []ir.DataFolder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range folders {
		r.folders[f.ID] = f
	}
}

func (r *indexResolver) folder(ctx context.Context, folderID string) (ir.DataFolder, bool, error) {
	r.mu.Lock()
	f, ok := r.folders[folderID]
	r.mu.Unlock()
	if ok {
		return f, true, nil
	}

	f, err := r.store.GetFolder(ctx, folderID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.DataFolder{}, false, nil
	}
	if err != nil {
		return ir.DataFolder{}, false, err
	}
	if f.WorkbookID != r.workbookID {
		return ir.DataFolder{}, false, nil
	}

	r.mu.Lock()
	r.folders[folderID] = f
	r.mu.Unlock()
	return f, true, nil
}

// RecordID implements transform.Resolver. Identity comes from the file
// index only.
func (r *indexResolver) RecordID(ctx context.Context, folderID, fileName string) (string, bool, error) {
	f, ok, err := r.folder(ctx, folderID)
	if err != nil || !ok {
		return "", false, err
	}
	return r.store.RecordIDFor(ctx, r.workbookID, f.Path, fileName)
}

// FileContent implements transform.Resolver. It returns the displayed
// content, so lookups see staged edits.
func (r *indexResolver) FileContent(ctx context.Context, folderID, fileName string) (map[string]any, bool, error) {
	if _, ok, err := r.folder(ctx, folderID); err != nil || !ok {
		return nil, false, err
	}
	file, err := r.store.GetFile(ctx, folderID, fileName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s: %w", folderID, fileName, err)
	}
	return file.State.Display(), true, nil
}

// folderPath returns the current path of a folder, or "" if unknown.
func (r *indexResolver) folderPath(ctx context.Context, folderID string) string {
	f, ok, err := r.folder(ctx, folderID)
	if err != nil || !ok {
		return ""
	}
	return f.Path
}
