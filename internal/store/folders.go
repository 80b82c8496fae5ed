package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/schema"
)

// PutFolder inserts or replaces a folder definition.
func (s *Store) PutFolder(ctx context.Context, f ir.DataFolder) error {
	srcJSON, err := marshalSchema(f.SourceSchema)
	if err != nil {
		return fmt.Errorf("put folder %s: %w", f.ID, err)
	}
	dstJSON, err := marshalSchema(f.DestSchema)
	if err != nil {
		return fmt.Errorf("put folder %s: %w", f.ID, err)
	}
	fmJSON, err := marshalJSON(f.FieldMap)
	if err != nil {
		return fmt.Errorf("put folder %s: field map: %w", f.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO folders
		(id, workbook_id, name, parent_id, path, connector_account, remote_collection, source_schema, dest_schema, field_map)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workbook_id = excluded.workbook_id,
			name = excluded.name,
			parent_id = excluded.parent_id,
			path = excluded.path,
			connector_account = excluded.connector_account,
			remote_collection = excluded.remote_collection,
			source_schema = excluded.source_schema,
			dest_schema = excluded.dest_schema,
			field_map = excluded.field_map
	`,
		f.ID,
		f.WorkbookID,
		f.Name,
		f.ParentID,
		f.Path,
		f.ConnectorAccount,
		f.RemoteCollection,
		srcJSON,
		dstJSON,
		fmJSON,
	)
	if err != nil {
		return fmt.Errorf("put folder %s: %w", f.ID, err)
	}
	return nil
}

// GetFolder returns a folder by id.
func (s *Store) GetFolder(ctx context.Context, id string) (ir.DataFolder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workbook_id, name, parent_id, path, connector_account, remote_collection, source_schema, dest_schema, field_map
		FROM folders
		WHERE id = ?
	`, id)
	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.DataFolder{}, fmt.Errorf("get folder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.DataFolder{}, fmt.Errorf("get folder %s: %w", id, err)
	}
	return f, nil
}

// ListFolders returns the folders of a workbook ordered by path.
func (s *Store) ListFolders(ctx context.Context, workbookID string) ([]ir.DataFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workbook_id, name, parent_id, path, connector_account, remote_collection, source_schema, dest_schema, field_map
		FROM folders
		WHERE workbook_id = ?
		ORDER BY path COLLATE BINARY ASC, id COLLATE BINARY ASC
	`, workbookID)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	folders := []ir.DataFolder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return folders, nil
}

// FolderMove describes the new placement of one folder within a move.
type FolderMove struct {
	FolderID string
	ParentID string
	OldPath  string
	NewPath  string
}

// MoveFolders applies a set of folder placements atomically and rewrites
// every correspondence index path that lived under an old folder path.
func (s *Store) MoveFolders(ctx context.Context, workbookID string, moves []FolderMove) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Park moved folders on unique temporary paths so swaps never
		// trip UNIQUE(workbook_id, path).
		for _, m := range moves {
			if _, err := tx.ExecContext(ctx,
				`UPDATE folders SET path = ? WHERE id = ? AND workbook_id = ?`,
				":moving:"+m.FolderID, m.FolderID, workbookID,
			); err != nil {
				return fmt.Errorf("move folder %s: %w", m.FolderID, err)
			}
		}
		for _, m := range moves {
			res, err := tx.ExecContext(ctx,
				`UPDATE folders SET path = ?, parent_id = ? WHERE id = ? AND workbook_id = ?`,
				m.NewPath, m.ParentID, m.FolderID, workbookID,
			)
			if err != nil {
				return fmt.Errorf("move folder %s: %w", m.FolderID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("move folder %s: %w", m.FolderID, ErrNotFound)
			}
			if err := rewriteIndexPaths(ctx, tx, workbookID, m.OldPath, m.NewPath); err != nil {
				return fmt.Errorf("move folder %s: %w", m.FolderID, err)
			}
		}
		return nil
	})
}

// rewriteIndexPaths moves index rows filed exactly under oldPath. Child
// folders are rewritten by their own FolderMove.
func rewriteIndexPaths(ctx context.Context, tx *sql.Tx, workbookID, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE file_index SET folder_path = ?
		WHERE workbook_id = ? AND folder_path = ?
	`, newPath, workbookID, oldPath); err != nil {
		return fmt.Errorf("rewrite file index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ref_index SET target_folder_path = ?
		WHERE workbook_id = ? AND target_folder_path = ?
	`, newPath, workbookID, oldPath); err != nil {
		return fmt.Errorf("rewrite ref targets: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT source_file_path, source_field, branch
		FROM ref_index
		WHERE workbook_id = ? AND substr(source_file_path, 1, ?) = ?
	`, workbookID, len(oldPath)+1, oldPath+"/")
	if err != nil {
		return fmt.Errorf("query ref sources: %w", err)
	}
	type refKey struct{ path, field, branch string }
	var keys []refKey
	for rows.Next() {
		var k refKey
		if err := rows.Scan(&k.path, &k.field, &k.branch); err != nil {
			rows.Close()
			return fmt.Errorf("scan ref source: %w", err)
		}
		// Only files directly inside oldPath.
		if !strings.Contains(k.path[len(oldPath)+1:], "/") {
			keys = append(keys, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate ref sources: %w", err)
	}

	for _, k := range keys {
		moved := ir.JoinPath(newPath, k.path[len(oldPath)+1:])
		if _, err := tx.ExecContext(ctx, `
			UPDATE ref_index SET source_file_path = ?
			WHERE workbook_id = ? AND source_file_path = ? AND source_field = ? AND branch = ?
		`, moved, workbookID, k.path, k.field, k.branch); err != nil {
			return fmt.Errorf("rewrite ref source: %w", err)
		}
	}
	return nil
}

func scanFolder(row rowScanner) (ir.DataFolder, error) {
	var f ir.DataFolder
	var srcJSON, dstJSON sql.NullString
	var fmJSON string
	if err := row.Scan(
		&f.ID,
		&f.WorkbookID,
		&f.Name,
		&f.ParentID,
		&f.Path,
		&f.ConnectorAccount,
		&f.RemoteCollection,
		&srcJSON,
		&dstJSON,
		&fmJSON,
	); err != nil {
		return ir.DataFolder{}, err
	}

	var err error
	if f.SourceSchema, err = unmarshalSchema(srcJSON); err != nil {
		return ir.DataFolder{}, fmt.Errorf("source schema: %w", err)
	}
	if f.DestSchema, err = unmarshalSchema(dstJSON); err != nil {
		return ir.DataFolder{}, fmt.Errorf("dest schema: %w", err)
	}
	if err := unmarshalJSON(fmJSON, &f.FieldMap); err != nil {
		return ir.DataFolder{}, fmt.Errorf("field map: %w", err)
	}
	return f, nil
}

func marshalSchema(n *schema.Node) (sql.NullString, error) {
	if n == nil {
		return sql.NullString{}, nil
	}
	data, err := marshalJSON(n)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal schema: %w", err)
	}
	return sql.NullString{String: data, Valid: true}, nil
}

func unmarshalSchema(data sql.NullString) (*schema.Node, error) {
	if !data.Valid {
		return nil, nil
	}
	var n schema.Node
	if err := unmarshalJSON(data.String, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
