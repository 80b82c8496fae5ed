package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/store"
)

// CreateFile creates a locally created record. Its fields are staged until
// it is published.
func (e *Engine) CreateFile(ctx context.Context, workbookID, folderID, filename string, content map[string]any) (ir.LocalFile, error) {
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return ir.LocalFile{}, err
	}
	if bad := ir.CheckReserved(content); len(bad) > 0 {
		return ir.LocalFile{}, reservedFieldError(folder.ID, folder.FilePath(filename), bad)
	}
	created, err := e.createLocal(ctx, folder, filename, content)
	if err != nil {
		return ir.LocalFile{}, err
	}
	if !created {
		return ir.LocalFile{}, fmt.Errorf("create %s: file already exists", folder.FilePath(filename))
	}
	return e.store.GetFile(ctx, folder.ID, filename)
}

// GetFile returns one local file.
func (e *Engine) GetFile(ctx context.Context, workbookID, folderID, filename string) (ir.LocalFile, error) {
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return ir.LocalFile{}, err
	}
	f, err := e.store.GetFile(ctx, folder.ID, filename)
	if errors.Is(err, store.ErrNotFound) {
		return ir.LocalFile{}, NewRecordNotFoundError(folder.ID, folder.FilePath(filename))
	}
	return f, err
}

// ListFiles returns the files of a folder ordered by name.
func (e *Engine) ListFiles(ctx context.Context, workbookID, folderID string) ([]ir.LocalFile, error) {
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return nil, err
	}
	return e.store.ListFiles(ctx, folder.ID)
}

// Envelope renders a local file with its reserved meta fields.
func (e *Engine) Envelope(ctx context.Context, workbookID, folderID, filename string) (map[string]any, error) {
	f, err := e.GetFile(ctx, workbookID, folderID, filename)
	if err != nil {
		return nil, err
	}
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return nil, err
	}
	var idx *ir.FileIndexEntry
	entry, err := e.store.GetFileIndex(ctx, workbookID, folder.Path, filename)
	switch {
	case err == nil:
		idx = &entry
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return ir.Envelope(f, folder.Path, idx), nil
}

// Stage records a local edit of one top-level field.
func (e *Engine) Stage(ctx context.Context, workbookID, folderID, filename, field string, v any) (merge.State, error) {
	if err := checkUserField(field, v); err != nil {
		return merge.State{}, err
	}
	return e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		st.Stage(field, v)
		return nil
	})
}

// StageFieldDelete stages removal of one field.
func (e *Engine) StageFieldDelete(ctx context.Context, workbookID, folderID, filename, field string) (merge.State, error) {
	if err := checkUserField(field, nil); err != nil {
		return merge.State{}, err
	}
	return e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		st.StageFieldDelete(field)
		return nil
	})
}

// Unstage discards the local edit of one field.
func (e *Engine) Unstage(ctx context.Context, workbookID, folderID, filename, field string) (merge.State, error) {
	return e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		st.Unstage(field)
		return nil
	})
}

// DeleteRecord stages deletion of the whole record. A record that was
// never published is discarded locally instead, unless its folder is
// engaged in a publish or pull; the planner then skips the tombstone.
func (e *Engine) DeleteRecord(ctx context.Context, workbookID, folderID, filename string) (merge.State, error) {
	st, err := e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		st.StageRecordDelete()
		return nil
	})
	if err != nil {
		return merge.State{}, err
	}
	if _, err := e.discardUnpublished(ctx, workbookID, folderID, filename); err != nil {
		return merge.State{}, err
	}
	return st, nil
}

// discardUnpublished removes a tombstoned file that has no remote
// identity. It reports whether the file was removed.
func (e *Engine) discardUnpublished(ctx context.Context, workbookID, folderID, filename string) (bool, error) {
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return false, err
	}
	if _, held := e.locks.Holder(folder.ID); held {
		return false, nil
	}
	var discarded bool
	key := merge.Key{FolderID: folder.ID, Filename: filename}
	err = e.model.WithLock(key, func() error {
		st, err := e.model.Get(ctx, key)
		if err != nil {
			return err
		}
		if !st.IsDeleted() {
			return nil
		}
		_, indexed, err := e.store.RecordIDFor(ctx, workbookID, folder.Path, filename)
		if err != nil || indexed {
			return err
		}
		if err := e.store.DeleteFile(ctx, folder.ID, filename); err != nil {
			return fmt.Errorf("discard %s: %w", folder.FilePath(filename), err)
		}
		discarded = true
		return nil
	})
	if errors.Is(err, merge.ErrUnknownRecord) {
		return false, nil
	}
	if discarded {
		slog.Info("unpublished record discarded", "file", folder.FilePath(filename))
	}
	return discarded, err
}

// Suggest proposes a value for one field. A nil value with del set
// proposes deleting the field.
func (e *Engine) Suggest(ctx context.Context, workbookID, folderID, filename, field string, v any, del bool) (merge.State, error) {
	if field != merge.RecordKey {
		if err := checkUserField(field, v); err != nil {
			return merge.State{}, err
		}
	}
	return e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		switch {
		case field == merge.RecordKey:
			st.SuggestRecordDelete()
		case del:
			st.SuggestFieldDelete(field)
		default:
			st.Suggest(field, v)
		}
		return nil
	})
}

// Accept promotes suggestions into the staged lane. An empty field
// accepts every suggestion. Accepting a record deletion discards an
// unpublished record the same way DeleteRecord does.
func (e *Engine) Accept(ctx context.Context, workbookID, folderID, filename, field string) (merge.State, error) {
	st, err := e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		if field == "" {
			st.AcceptAll()
			return nil
		}
		return st.Accept(field)
	})
	if err != nil || !st.IsDeleted() {
		return st, err
	}
	if _, err := e.discardUnpublished(ctx, workbookID, folderID, filename); err != nil {
		return merge.State{}, err
	}
	return st, nil
}

// Reject drops suggestions. An empty field rejects every suggestion.
func (e *Engine) Reject(ctx context.Context, workbookID, folderID, filename, field string) (merge.State, error) {
	return e.update(ctx, workbookID, folderID, filename, func(st *merge.State) error {
		if field == "" {
			st.RejectAll()
			return nil
		}
		return st.Reject(field)
	})
}

func (e *Engine) update(ctx context.Context, workbookID, folderID, filename string, fn func(*merge.State) error) (merge.State, error) {
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return merge.State{}, err
	}
	st, err := e.model.Update(ctx, merge.Key{FolderID: folder.ID, Filename: filename}, fn)
	if errors.Is(err, merge.ErrUnknownRecord) {
		return merge.State{}, NewRecordNotFoundError(folder.ID, folder.FilePath(filename))
	}
	return st, err
}

// folder loads a folder of the workbook.
func (e *Engine) folder(ctx context.Context, workbookID, folderID string) (ir.DataFolder, error) {
	f, err := e.store.GetFolder(ctx, folderID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && f.WorkbookID != workbookID) {
		return ir.DataFolder{}, NewFolderNotFoundError(folderID)
	}
	return f, err
}

// checkUserField rejects reserved names in a field name or nested value.
func checkUserField(field string, v any) error {
	bad := ir.CheckReserved(map[string]any{field: v})
	if len(bad) == 0 {
		return nil
	}
	return reservedFieldError("", field, bad)
}
