package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/store"
	"github.com/roach88/syncbook/internal/transform"
)

// PullReport summarizes one sync pass over a folder.
type PullReport struct {
	FolderID string `json:"folder_id"`
	Seen     int    `json:"seen"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	// Removed lists local files deleted because their remote record is gone.
	Removed []string `json:"removed"`
	// Conflicts lists local files kept despite a vanished or colliding
	// remote record, because they carry local edits or lack an identity.
	Conflicts []string `json:"conflicts"`
}

// Pull runs a sync pass over one folder on the calling goroutine. The
// folder is locked for the duration of the pass.
func (e *Engine) Pull(ctx context.Context, workbookID, folderID string) (PullReport, error) {
	holder := "pull-" + e.ids.Generate()
	if err := e.locks.TryAcquire(holder, folderID); err != nil {
		slog.Warn("pull rejected: folder locked", "folder", folderID, "error", err)
		return PullReport{}, err
	}
	defer e.locks.Release(holder)
	return e.pull(ctx, workbookID, folderID)
}

// StartPull queues a sync pass and returns its job id.
func (e *Engine) StartPull(ctx context.Context, workbookID, folderID string) (string, error) {
	if _, err := e.boundFolder(ctx, workbookID, folderID); err != nil {
		return "", err
	}
	id := "pull-" + e.ids.Generate()
	if err := e.locks.TryAcquire(id, folderID); err != nil {
		slog.Warn("pull rejected: folder locked", "folder", folderID, "error", err)
		return "", err
	}
	if err := e.enqueue(&job{Kind: JobPull, ID: id, WorkbookID: workbookID, FolderID: folderID}); err != nil {
		return "", err
	}
	return id, nil
}

// WaitPull blocks until a queued pull finishes and returns its report.
func (e *Engine) WaitPull(ctx context.Context, jobID string) (PullReport, error) {
	e.mu.Lock()
	j, queued := e.jobs[jobID]
	e.mu.Unlock()
	if queued {
		select {
		case <-j.done:
		case <-ctx.Done():
			return PullReport{}, ctx.Err()
		}
	}

	e.mu.Lock()
	out, ok := e.pulls[jobID]
	delete(e.pulls, jobID)
	e.mu.Unlock()
	if !ok {
		return PullReport{}, &RuntimeError{Code: ErrCodePipelineNotFound, Message: "pull job not found", PipelineID: jobID}
	}
	return out.report, out.err
}

func (e *Engine) recordPull(jobID string, report PullReport, err error) {
	e.mu.Lock()
	e.pulls[jobID] = pullOutcome{report: report, err: err}
	e.mu.Unlock()
}

func (e *Engine) boundFolder(ctx context.Context, workbookID, folderID string) (ir.DataFolder, error) {
	f, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return ir.DataFolder{}, err
	}
	if !f.Bound() {
		return ir.DataFolder{}, &RuntimeError{
			Code:     ErrCodeInvalidMapping,
			Message:  "folder is not bound to a remote collection",
			FolderID: folderID,
		}
	}
	return f, nil
}

// pull lists the remote collection, writes remote values into the remote
// lane of matching local files and indexes them as seen. Index entries not
// seen in this pass are pruned; their clean local files are removed.
func (e *Engine) pull(ctx context.Context, workbookID, folderID string) (PullReport, error) {
	folder, err := e.boundFolder(ctx, workbookID, folderID)
	if err != nil {
		return PullReport{}, err
	}
	conn, err := e.connectors.Get(folder.ConnectorAccount)
	if err != nil {
		return PullReport{}, err
	}
	records, err := conn.ListRecords(ctx, folder.RemoteCollection)
	if err != nil {
		return PullReport{}, fmt.Errorf("list %s: %w", folder.RemoteCollection, err)
	}

	report := PullReport{FolderID: folderID, Removed: []string{}, Conflicts: []string{}}
	resolver := newIndexResolver(e.store, workbookID)
	passStart := e.clock.Now()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Seen++

		content, err := e.invert(ctx, resolver, workbookID, folder, rec.Fields)
		if err != nil {
			return report, err
		}

		filename, indexed, err := e.store.FilenameForRecord(ctx, workbookID, folder.Path, rec.ID)
		if err != nil {
			return report, err
		}
		if !indexed {
			filename = rec.ID
		}
		key := merge.Key{FolderID: folder.ID, Filename: filename}

		if indexed {
			_, err := e.model.Update(ctx, key, func(st *merge.State) error {
				st.SetRemote(overlayRemote(st.Remote, content, folder))
				return nil
			})
			switch {
			case errors.Is(err, merge.ErrUnknownRecord):
				if err := e.createPulled(ctx, folder, filename, content, passStart); err != nil {
					return report, err
				}
				report.Created++
			case err != nil:
				return report, err
			default:
				report.Updated++
			}
			if err := e.store.MarkSeen(ctx, workbookID, folder.Path, filename, passStart); err != nil {
				return report, err
			}
			continue
		}

		// A local file of the same name without an identity is never
		// adopted by name.
		if _, err := e.store.GetFile(ctx, folder.ID, filename); err == nil {
			report.Conflicts = append(report.Conflicts, folder.FilePath(filename))
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return report, err
		}
		if err := e.createPulled(ctx, folder, filename, content, passStart); err != nil {
			return report, err
		}
		if err := e.store.Upsert(ctx, ir.FileIndexEntry{
			WorkbookID:     workbookID,
			FolderPath:     folder.Path,
			Filename:       filename,
			RemoteRecordID: rec.ID,
			LastSeenAt:     passStart,
		}); err != nil {
			return report, err
		}
		report.Created++
	}

	pruned, err := e.store.PruneUnseenSince(ctx, workbookID, folder.Path, passStart)
	if err != nil {
		return report, err
	}
	for _, gone := range pruned {
		file, err := e.store.GetFile(ctx, folder.ID, gone.Filename)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return report, err
		}
		if !file.State.Clean() {
			report.Conflicts = append(report.Conflicts, gone.FilePath())
			continue
		}
		if err := e.store.DeleteIndex(ctx, workbookID, folder.Path, gone.Filename); err != nil {
			return report, err
		}
		if err := e.store.DeleteFile(ctx, folder.ID, gone.Filename); err != nil {
			return report, err
		}
		report.Removed = append(report.Removed, gone.FilePath())
	}

	slog.Info("pull finished",
		"folder", folder.Path,
		"seen", report.Seen,
		"created", report.Created,
		"updated", report.Updated,
		"removed", len(report.Removed),
		"conflicts", len(report.Conflicts),
	)
	return report, nil
}

func (e *Engine) createPulled(ctx context.Context, folder ir.DataFolder, filename string, content map[string]any, at time.Time) error {
	return e.store.CreateFile(ctx, ir.LocalFile{
		ID:        e.ids.Generate(),
		FolderID:  folder.ID,
		Filename:  filename,
		State:     merge.NewState(content),
		CreatedAt: at,
		UpdatedAt: at,
	})
}

// invert maps remote fields back onto source paths. Plain mappings copy the
// value; foreign keys are translated to local file names through the
// index. Other transformers are not invertible and are skipped.
func (e *Engine) invert(ctx context.Context, r *indexResolver, workbookID string, folder ir.DataFolder, fields map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for _, m := range folder.FieldMap.Entries() {
		v, ok := transform.GetDotted(fields, m.Destination)
		if !ok {
			continue
		}
		switch c := m.Transformer.(type) {
		case nil:
		case transform.SourceFKToDestFK:
			if v == nil {
				break
			}
			id, ok := v.(string)
			if !ok {
				continue
			}
			name, found, err := e.store.FilenameForRecord(ctx, workbookID, r.folderPath(ctx, c.ReferencedFolderID), id)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			v = name
		default:
			continue
		}
		transform.SetDotted(out, m.Source, v)
	}
	return out, nil
}

// overlayRemote merges pulled content over the current remote lane. Top
// level fields mapped without a transformer and missing remotely are
// dropped.
func overlayRemote(remote, pulled map[string]any, folder ir.DataFolder) map[string]any {
	out := make(map[string]any, len(remote)+len(pulled))
	for k, v := range remote {
		out[k] = v
	}
	for _, m := range folder.FieldMap.Entries() {
		if m.Transformer == nil && !strings.Contains(m.Source, ".") {
			if _, ok := pulled[m.Source]; !ok {
				delete(out, m.Source)
			}
		}
	}
	for k, v := range pulled {
		out[k] = v
	}
	return out
}
