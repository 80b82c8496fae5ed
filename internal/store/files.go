package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
)

// CreateFile inserts a new local file. It fails if the folder already has
// a file with the same name.
func (s *Store) CreateFile(ctx context.Context, f ir.LocalFile) error {
	stateJSON, err := marshalJSON(f.State)
	if err != nil {
		return fmt.Errorf("create file %s: %w", f.Filename, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (id, folder_id, filename, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		f.ID,
		f.FolderID,
		f.Filename,
		stateJSON,
		toNanos(f.CreatedAt),
		toNanos(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create file %s: %w", f.Filename, err)
	}
	return nil
}

// GetFile returns the file named filename in a folder.
func (s *Store) GetFile(ctx context.Context, folderID, filename string) (ir.LocalFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, filename, state, created_at, updated_at
		FROM files
		WHERE folder_id = ? AND filename = ?
	`, folderID, filename)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.LocalFile{}, fmt.Errorf("get file %s/%s: %w", folderID, filename, ErrNotFound)
	}
	if err != nil {
		return ir.LocalFile{}, fmt.Errorf("get file %s/%s: %w", folderID, filename, err)
	}
	return f, nil
}

// ListFiles returns the files of a folder ordered by filename.
func (s *Store) ListFiles(ctx context.Context, folderID string) ([]ir.LocalFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, folder_id, filename, state, created_at, updated_at
		FROM files
		WHERE folder_id = ?
		ORDER BY filename COLLATE BINARY ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	files := []ir.LocalFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// DeleteFile removes a local file. Deleting a missing file is not an error.
func (s *Store) DeleteFile(ctx context.Context, folderID, filename string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE folder_id = ? AND filename = ?`,
		folderID, filename,
	); err != nil {
		return fmt.Errorf("delete file %s/%s: %w", folderID, filename, err)
	}
	return nil
}

// LoadState implements merge.Backend.
func (s *Store) LoadState(ctx context.Context, key merge.Key) (merge.State, bool, error) {
	f, err := s.GetFile(ctx, key.FolderID, key.Filename)
	if errors.Is(err, ErrNotFound) {
		return merge.State{}, false, nil
	}
	if err != nil {
		return merge.State{}, false, err
	}
	return f.State, true, nil
}

// SaveState implements merge.Backend.
func (s *Store) SaveState(ctx context.Context, key merge.Key, st merge.State) error {
	stateJSON, err := marshalJSON(st)
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET state = ?, updated_at = ?
		WHERE folder_id = ? AND filename = ?
	`, stateJSON, toNanos(s.now()), key.FolderID, key.Filename)
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save state %s: %w", key, ErrNotFound)
	}
	return nil
}

func scanFile(row rowScanner) (ir.LocalFile, error) {
	var f ir.LocalFile
	var stateJSON string
	var created, updated int64
	if err := row.Scan(&f.ID, &f.FolderID, &f.Filename, &stateJSON, &created, &updated); err != nil {
		return ir.LocalFile{}, err
	}
	if err := unmarshalJSON(stateJSON, &f.State); err != nil {
		return ir.LocalFile{}, err
	}
	f.CreatedAt = fromNanos(created)
	f.UpdatedAt = fromNanos(updated)
	return f, nil
}
