package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/store"
	"github.com/roach88/syncbook/internal/workbook"
)

// ListFolders returns the folders of a workbook in path order.
func (e *Engine) ListFolders(ctx context.Context, workbookID string) ([]ir.DataFolder, error) {
	return e.store.ListFolders(ctx, workbookID)
}

// SaveFolder inserts or replaces a folder definition. The path is derived
// from the parent chain. A field map with blocking mapping errors is not
// saved; the errors are returned instead.
func (e *Engine) SaveFolder(ctx context.Context, f ir.DataFolder) ([]mapping.MappingError, error) {
	if f.SourceSchema != nil && f.DestSchema != nil {
		if errs := mapping.Blocking(mapping.Validate(f.SourceSchema, f.DestSchema, f.FieldMap), f.FieldMap); len(errs) > 0 {
			return errs, invalidMappingError(f.ID, errs)
		}
	}

	folders, err := e.store.ListFolders(ctx, f.WorkbookID)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i := range folders {
		if folders[i].ID == f.ID {
			if folders[i].ParentID != f.ParentID || folders[i].Name != f.Name {
				return nil, fmt.Errorf("save folder %s: use MoveFolder to change placement", f.ID)
			}
			folders[i] = f
			replaced = true
		}
	}
	if !replaced {
		folders = append(folders, f)
	}

	tree, err := workbook.NewTree(folders)
	if err != nil {
		return nil, treeError(f.ID, err)
	}
	p, err := tree.Path(f.ID)
	if err != nil {
		return nil, treeError(f.ID, err)
	}
	f.Path = p
	if err := e.store.PutFolder(ctx, f); err != nil {
		return nil, err
	}
	return nil, nil
}

// MoveFolder reparents a folder under newParentID (empty for the root).
// Index paths below the folder are rewritten. Moving a folder engaged in
// a pipeline or pull, or any of its descendants, is rejected.
func (e *Engine) MoveFolder(ctx context.Context, workbookID, folderID, newParentID string) ([]workbook.Placement, error) {
	folders, err := e.store.ListFolders(ctx, workbookID)
	if err != nil {
		return nil, err
	}
	tree, err := workbook.NewTree(folders)
	if err != nil {
		return nil, treeError(folderID, err)
	}
	if _, ok := tree.Get(folderID); !ok {
		return nil, NewFolderNotFoundError(folderID)
	}
	for _, id := range append([]string{folderID}, tree.Descendants(folderID)...) {
		if holder, held := e.locks.Holder(id); held {
			return nil, NewLockedError(id, holder)
		}
	}

	placements, err := tree.Move(folderID, newParentID)
	if err != nil {
		return nil, treeError(folderID, err)
	}
	moves := make([]store.FolderMove, len(placements))
	for i, pl := range placements {
		moves[i] = store.FolderMove{
			FolderID: pl.FolderID,
			ParentID: pl.ParentID,
			OldPath:  pl.OldPath,
			NewPath:  pl.NewPath,
		}
	}
	if err := e.store.MoveFolders(ctx, workbookID, moves); err != nil {
		return nil, err
	}
	slog.Info("folder moved", "folder", folderID, "parent", newParentID, "from", placements[0].OldPath, "to", placements[0].NewPath)
	return placements, nil
}

func treeError(folderID string, err error) error {
	var ce *workbook.CycleError
	switch {
	case errors.As(err, &ce):
		return &RuntimeError{Code: ErrCodeFolderCycle, Message: err.Error(), FolderID: ce.FolderID}
	case errors.Is(err, workbook.ErrUnknownFolder):
		return &RuntimeError{Code: ErrCodeFolderNotFound, Message: err.Error(), FolderID: folderID}
	default:
		return fmt.Errorf("folder %s: %w", folderID, err)
	}
}
