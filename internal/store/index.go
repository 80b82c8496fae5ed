package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/syncbook/internal/ir"
)

// RecordIDFor returns the remote record id of a local file, if indexed.
func (s *Store) RecordIDFor(ctx context.Context, workbookID, folderPath, filename string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT remote_record_id FROM file_index
		WHERE workbook_id = ? AND folder_path = ? AND filename = ?
	`, workbookID, folderPath, filename).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("record id for %s: %w", ir.JoinPath(folderPath, filename), err)
	}
	return id, true, nil
}

// GetFileIndex returns the index entry of a local file.
func (s *Store) GetFileIndex(ctx context.Context, workbookID, folderPath, filename string) (ir.FileIndexEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workbook_id, folder_path, filename, remote_record_id, last_seen_at
		FROM file_index
		WHERE workbook_id = ? AND folder_path = ? AND filename = ?
	`, workbookID, folderPath, filename)
	e, err := scanFileIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.FileIndexEntry{}, fmt.Errorf("file index %s: %w", ir.JoinPath(folderPath, filename), ErrNotFound)
	}
	if err != nil {
		return ir.FileIndexEntry{}, fmt.Errorf("file index %s: %w", ir.JoinPath(folderPath, filename), err)
	}
	return e, nil
}

// FilenameForRecord returns the local filename indexed to a remote record.
func (s *Store) FilenameForRecord(ctx context.Context, workbookID, folderPath, remoteID string) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT filename FROM file_index
		WHERE workbook_id = ? AND folder_path = ? AND remote_record_id = ?
		ORDER BY filename COLLATE BINARY ASC
		LIMIT 1
	`, workbookID, folderPath, remoteID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("filename for record %s: %w", remoteID, err)
	}
	return name, true, nil
}

// Upsert associates a local file with a remote record and marks it seen.
func (s *Store) Upsert(ctx context.Context, e ir.FileIndexEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_index (workbook_id, folder_path, filename, remote_record_id, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workbook_id, folder_path, filename) DO UPDATE SET
			remote_record_id = excluded.remote_record_id,
			last_seen_at = excluded.last_seen_at
	`, e.WorkbookID, e.FolderPath, e.Filename, e.RemoteRecordID, toNanos(e.LastSeenAt))
	if err != nil {
		return fmt.Errorf("upsert file index %s: %w", e.FilePath(), err)
	}
	return nil
}

// MarkSeen refreshes last_seen_at of an indexed file.
func (s *Store) MarkSeen(ctx context.Context, workbookID, folderPath, filename string, seenAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_index SET last_seen_at = ?
		WHERE workbook_id = ? AND folder_path = ? AND filename = ?
	`, toNanos(seenAt), workbookID, folderPath, filename)
	if err != nil {
		return fmt.Errorf("mark seen %s: %w", ir.JoinPath(folderPath, filename), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark seen %s: %w", ir.JoinPath(folderPath, filename), ErrNotFound)
	}
	return nil
}

// PruneUnseenSince removes and returns the entries of a folder whose
// last_seen_at is before cutoff. Their remote records are presumed deleted.
func (s *Store) PruneUnseenSince(ctx context.Context, workbookID, folderPath string, cutoff time.Time) ([]ir.FileIndexEntry, error) {
	pruned := []ir.FileIndexEntry{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT workbook_id, folder_path, filename, remote_record_id, last_seen_at
			FROM file_index
			WHERE workbook_id = ? AND folder_path = ? AND last_seen_at < ?
			ORDER BY filename COLLATE BINARY ASC
		`, workbookID, folderPath, toNanos(cutoff))
		if err != nil {
			return fmt.Errorf("query unseen: %w", err)
		}
		for rows.Next() {
			e, err := scanFileIndex(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan unseen: %w", err)
			}
			pruned = append(pruned, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate unseen: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM file_index
			WHERE workbook_id = ? AND folder_path = ? AND last_seen_at < ?
		`, workbookID, folderPath, toNanos(cutoff)); err != nil {
			return fmt.Errorf("delete unseen: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prune %s: %w", folderPath, err)
	}
	return pruned, nil
}

// DeleteIndex removes the index entry of a local file and every ref entry
// sourced from it.
func (s *Store) DeleteIndex(ctx context.Context, workbookID, folderPath, filename string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM file_index
			WHERE workbook_id = ? AND folder_path = ? AND filename = ?
		`, workbookID, folderPath, filename); err != nil {
			return fmt.Errorf("delete file index %s: %w", ir.JoinPath(folderPath, filename), err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM ref_index
			WHERE workbook_id = ? AND source_file_path = ?
		`, workbookID, ir.JoinPath(folderPath, filename)); err != nil {
			return fmt.Errorf("delete refs of %s: %w", ir.JoinPath(folderPath, filename), err)
		}
		return nil
	})
}

// ListFileIndex returns every file index entry of a workbook.
func (s *Store) ListFileIndex(ctx context.Context, workbookID string) ([]ir.FileIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workbook_id, folder_path, filename, remote_record_id, last_seen_at
		FROM file_index
		WHERE workbook_id = ?
		ORDER BY folder_path COLLATE BINARY ASC, filename COLLATE BINARY ASC
	`, workbookID)
	if err != nil {
		return nil, fmt.Errorf("query file index: %w", err)
	}
	defer rows.Close()

	entries := []ir.FileIndexEntry{}
	for rows.Next() {
		e, err := scanFileIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file index: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file index: %w", err)
	}
	return entries, nil
}

// UpsertRef records the resolution state of one referencing field.
func (s *Store) UpsertRef(ctx context.Context, e ir.RefIndexEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ref_index
		(workbook_id, source_file_path, source_field, branch, destination_field, kind,
		 target_folder_path, target_file_name, target_record_id, lookup_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workbook_id, source_file_path, source_field, branch) DO UPDATE SET
			destination_field = excluded.destination_field,
			kind = excluded.kind,
			target_folder_path = excluded.target_folder_path,
			target_file_name = excluded.target_file_name,
			target_record_id = excluded.target_record_id,
			lookup_path = excluded.lookup_path,
			updated_at = excluded.updated_at
	`,
		e.WorkbookID,
		e.SourceFilePath,
		e.SourceField,
		e.Branch,
		e.DestinationField,
		e.Kind,
		e.TargetFolderPath,
		e.TargetFileName,
		e.TargetRecordID,
		e.LookupPath,
		toNanos(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert ref %s.%s: %w", e.SourceFilePath, e.SourceField, err)
	}
	return nil
}

// ResolveRef returns the ref entries of a source file on a branch.
func (s *Store) ResolveRef(ctx context.Context, workbookID, sourceFilePath, branch string) ([]ir.RefIndexEntry, error) {
	return s.queryRefs(ctx, `
		WHERE workbook_id = ? AND source_file_path = ? AND branch = ?
	`, workbookID, sourceFilePath, branch)
}

// ListRefIndex returns every ref entry of a workbook.
func (s *Store) ListRefIndex(ctx context.Context, workbookID string) ([]ir.RefIndexEntry, error) {
	return s.queryRefs(ctx, `WHERE workbook_id = ?`, workbookID)
}

// ListDeferredRefs returns the unresolved ref entries of a workbook branch.
func (s *Store) ListDeferredRefs(ctx context.Context, workbookID, branch string) ([]ir.RefIndexEntry, error) {
	return s.queryRefs(ctx, `
		WHERE workbook_id = ? AND branch = ? AND target_record_id = ''
	`, workbookID, branch)
}

// DeleteRef removes one ref entry.
func (s *Store) DeleteRef(ctx context.Context, workbookID, sourceFilePath, sourceField, branch string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM ref_index
		WHERE workbook_id = ? AND source_file_path = ? AND source_field = ? AND branch = ?
	`, workbookID, sourceFilePath, sourceField, branch); err != nil {
		return fmt.Errorf("delete ref %s.%s: %w", sourceFilePath, sourceField, err)
	}
	return nil
}

func (s *Store) queryRefs(ctx context.Context, where string, args ...any) ([]ir.RefIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workbook_id, source_file_path, source_field, branch, destination_field, kind,
		       target_folder_path, target_file_name, target_record_id, lookup_path, updated_at
		FROM ref_index
		`+where+`
		ORDER BY source_file_path COLLATE BINARY ASC, source_field COLLATE BINARY ASC, branch COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query ref index: %w", err)
	}
	defer rows.Close()

	entries := []ir.RefIndexEntry{}
	for rows.Next() {
		var e ir.RefIndexEntry
		var updated int64
		if err := rows.Scan(
			&e.WorkbookID,
			&e.SourceFilePath,
			&e.SourceField,
			&e.Branch,
			&e.DestinationField,
			&e.Kind,
			&e.TargetFolderPath,
			&e.TargetFileName,
			&e.TargetRecordID,
			&e.LookupPath,
			&updated,
		); err != nil {
			return nil, fmt.Errorf("scan ref index: %w", err)
		}
		e.UpdatedAt = fromNanos(updated)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ref index: %w", err)
	}
	return entries, nil
}

func scanFileIndex(row rowScanner) (ir.FileIndexEntry, error) {
	var e ir.FileIndexEntry
	var seen int64
	if err := row.Scan(&e.WorkbookID, &e.FolderPath, &e.Filename, &e.RemoteRecordID, &seen); err != nil {
		return ir.FileIndexEntry{}, err
	}
	e.LastSeenAt = fromNanos(seen)
	return e, nil
}
