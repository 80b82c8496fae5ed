package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/syncbook/internal/ir"
)

// CreatePipeline inserts a planned pipeline with its entries atomically.
func (s *Store) CreatePipeline(ctx context.Context, p ir.PublishPipeline, entries []ir.PipelineEntry) error {
	scopeJSON, err := marshalJSON(p.Scope)
	if err != nil {
		return fmt.Errorf("create pipeline %s: scope: %w", p.ID, err)
	}
	phasesJSON, err := marshalJSON(nonNilPhases(p.Phases))
	if err != nil {
		return fmt.Errorf("create pipeline %s: phases: %w", p.ID, err)
	}
	foldersJSON, err := marshalJSON(nonNilStrings(p.FolderIDs))
	if err != nil {
		return fmt.Errorf("create pipeline %s: folders: %w", p.ID, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pipelines
			(id, workbook_id, scope, branch, status, phases, folder_ids, created_at, started_at, finished_at, cancel_requested, cancelled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID,
			p.WorkbookID,
			scopeJSON,
			p.Branch,
			string(p.Status),
			phasesJSON,
			foldersJSON,
			toNanos(p.CreatedAt),
			toNullNanos(p.StartedAt),
			toNullNanos(p.FinishedAt),
			boolInt(p.CancelRequested),
			boolInt(p.Cancelled),
		); err != nil {
			return fmt.Errorf("create pipeline %s: %w", p.ID, err)
		}

		for _, folderID := range p.FolderIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pipeline_folders (pipeline_id, folder_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, p.ID, folderID); err != nil {
				return fmt.Errorf("create pipeline %s: folder %s: %w", p.ID, folderID, err)
			}
		}

		for _, e := range entries {
			if err := insertEntry(ctx, tx, e); err != nil {
				return fmt.Errorf("create pipeline %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func insertEntry(ctx context.Context, tx *sql.Tx, e ir.PipelineEntry) error {
	opJSON, err := marshalJSON(e.Operation)
	if err != nil {
		return fmt.Errorf("entry %s: operation: %w", e.Key(), err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pipeline_entries
		(id, pipeline_id, folder_id, file_path, phase, seq, operation, status, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.PipelineID,
		e.FolderID,
		e.FilePath,
		int(e.Phase),
		e.Seq,
		opJSON,
		string(e.Status),
		e.Error,
		toNullNanos(e.AttemptedAt),
	); err != nil {
		return fmt.Errorf("entry %s: %w", e.Key(), err)
	}
	return nil
}

// GetPipeline returns a pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (ir.PublishPipeline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workbook_id, scope, branch, status, phases, folder_ids, created_at, started_at, finished_at, cancel_requested, cancelled
		FROM pipelines
		WHERE id = ?
	`, id)
	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PublishPipeline{}, fmt.Errorf("get pipeline %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.PublishPipeline{}, fmt.Errorf("get pipeline %s: %w", id, err)
	}
	return p, nil
}

// ListPipelines returns the pipelines of a workbook, oldest first. When
// folderIDs is non-empty only pipelines touching one of those folders are
// returned.
func (s *Store) ListPipelines(ctx context.Context, workbookID string, folderIDs []string) ([]ir.PublishPipeline, error) {
	query := `
		SELECT id, workbook_id, scope, branch, status, phases, folder_ids, created_at, started_at, finished_at, cancel_requested, cancelled
		FROM pipelines p
		WHERE workbook_id = ?`
	args := []any{workbookID}
	if len(folderIDs) > 0 {
		query += `
		AND EXISTS (
			SELECT 1 FROM pipeline_folders pf
			WHERE pf.pipeline_id = p.id AND pf.folder_id IN (?` + strings.Repeat(", ?", len(folderIDs)-1) + `)
		)`
		for _, id := range folderIDs {
			args = append(args, id)
		}
	}
	query += `
		ORDER BY created_at ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := []ir.PublishPipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipelines: %w", err)
	}
	return pipelines, nil
}

// UpdatePipeline persists the mutable lifecycle columns of a pipeline.
func (s *Store) UpdatePipeline(ctx context.Context, p ir.PublishPipeline) error {
	phasesJSON, err := marshalJSON(nonNilPhases(p.Phases))
	if err != nil {
		return fmt.Errorf("update pipeline %s: phases: %w", p.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET
			status = ?,
			phases = ?,
			started_at = ?,
			finished_at = ?,
			cancelled = ?,
			cancel_requested = MAX(cancel_requested, ?)
		WHERE id = ?
	`,
		string(p.Status),
		phasesJSON,
		toNullNanos(p.StartedAt),
		toNullNanos(p.FinishedAt),
		boolInt(p.Cancelled),
		boolInt(p.CancelRequested),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update pipeline %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update pipeline %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// StartPipeline moves a pipeline to running. A cancellation requested
// while the pipeline was still planned is kept; one left over from an
// earlier finished attempt is cleared. It reports false if the pipeline is
// already running.
func (s *Store) StartPipeline(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET
			status = ?,
			started_at = ?,
			finished_at = NULL,
			cancelled = 0,
			cancel_requested = CASE WHEN status = ? THEN cancel_requested ELSE 0 END
		WHERE id = ? AND status != ?
	`,
		string(ir.PipelineRunning),
		toNanos(at),
		string(ir.PipelinePlanned),
		id,
		string(ir.PipelineRunning),
	)
	if err != nil {
		return false, fmt.Errorf("start pipeline %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetPipeline(ctx, id); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// RequestCancel flags a planned or running pipeline for cancellation. It
// reports false when the pipeline has already finished.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET cancel_requested = 1
		WHERE id = ? AND status IN (?, ?)
	`, id, string(ir.PipelinePlanned), string(ir.PipelineRunning))
	if err != nil {
		return false, fmt.Errorf("cancel pipeline %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetPipeline(ctx, id); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// CancelRequested reports whether cancellation was requested for a pipeline.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM pipelines WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("cancel requested %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("cancel requested %s: %w", id, err)
	}
	return flag != 0, nil
}

// ListEntries returns the entries of a pipeline in execution order.
func (s *Store) ListEntries(ctx context.Context, pipelineID string) ([]ir.PipelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_id, folder_id, file_path, phase, seq, operation, status, error, attempted_at
		FROM pipeline_entries
		WHERE pipeline_id = ?
		ORDER BY phase ASC, seq ASC, id COLLATE BINARY ASC
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []ir.PipelineEntry{}
	for rows.Next() {
		var e ir.PipelineEntry
		var phase int
		var opJSON, status string
		var attempted sql.NullInt64
		if err := rows.Scan(
			&e.ID,
			&e.PipelineID,
			&e.FolderID,
			&e.FilePath,
			&phase,
			&e.Seq,
			&opJSON,
			&status,
			&e.Error,
			&attempted,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Phase = ir.Phase(phase)
		e.Status = ir.EntryStatus(status)
		e.AttemptedAt = fromNullNanos(attempted)
		if err := unmarshalJSON(opJSON, &e.Operation); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Key(), err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// UpdateEntry persists the outcome of one entry attempt.
func (s *Store) UpdateEntry(ctx context.Context, e ir.PipelineEntry) error {
	opJSON, err := marshalJSON(e.Operation)
	if err != nil {
		return fmt.Errorf("update entry %s: operation: %w", e.Key(), err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_entries SET operation = ?, status = ?, error = ?, attempted_at = ?
		WHERE id = ?
	`, opJSON, string(e.Status), e.Error, toNullNanos(e.AttemptedAt), e.ID)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", e.Key(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update entry %s: %w", e.Key(), ErrNotFound)
	}
	return nil
}

func scanPipeline(row rowScanner) (ir.PublishPipeline, error) {
	var p ir.PublishPipeline
	var scopeJSON, status, phasesJSON, foldersJSON string
	var created int64
	var started, finished sql.NullInt64
	var cancelReq, cancelled int
	if err := row.Scan(
		&p.ID,
		&p.WorkbookID,
		&scopeJSON,
		&p.Branch,
		&status,
		&phasesJSON,
		&foldersJSON,
		&created,
		&started,
		&finished,
		&cancelReq,
		&cancelled,
	); err != nil {
		return ir.PublishPipeline{}, err
	}
	p.Status = ir.PipelineStatus(status)
	p.CreatedAt = fromNanos(created)
	p.StartedAt = fromNullNanos(started)
	p.FinishedAt = fromNullNanos(finished)
	p.CancelRequested = cancelReq != 0
	p.Cancelled = cancelled != 0
	if err := unmarshalJSON(scopeJSON, &p.Scope); err != nil {
		return ir.PublishPipeline{}, err
	}
	if err := unmarshalJSON(phasesJSON, &p.Phases); err != nil {
		return ir.PublishPipeline{}, err
	}
	if err := unmarshalJSON(foldersJSON, &p.FolderIDs); err != nil {
		return ir.PublishPipeline{}, err
	}
	return p, nil
}

func nonNilPhases(p []ir.Phase) []ir.Phase {
	if p == nil {
		return []ir.Phase{}
	}
	return p
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
