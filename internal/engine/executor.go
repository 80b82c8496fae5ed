package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/store"
	"github.com/roach88/syncbook/internal/transform"
)

// Executor applies the entries of a planned pipeline through connectors.
//
// Entries run sequentially in phase order. A failed entry is recorded and
// the run continues with the next one; effects of successful entries are
// durable and never rolled back. Only non-successful entries are attempted
// when a pipeline is run again.
type Executor struct {
	store      *store.Store
	model      *merge.Model
	connectors *connector.Registry
	clock      Clock

	// records serializes index and merge model writes per file path.
	records merge.KeyedMutex
}

// NewExecutor creates an executor.
func NewExecutor(s *store.Store, model *merge.Model, connectors *connector.Registry, clock Clock) *Executor {
	return &Executor{store: s, model: model, connectors: connectors, clock: clock}
}

// Run executes pipelineID and returns its final state. The pipeline ends
// completed when every entry succeeded and failed otherwise. A cancellation
// request is honoured between entries; the remaining entries stay pending.
func (x *Executor) Run(ctx context.Context, pipelineID string) (ir.PublishPipeline, error) {
	p, err := x.store.GetPipeline(ctx, pipelineID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.PublishPipeline{}, NewPipelineNotFoundError(pipelineID)
	}
	if err != nil {
		return ir.PublishPipeline{}, fmt.Errorf("run pipeline: %w", err)
	}

	startedAt := x.clock.Now()
	started, err := x.store.StartPipeline(ctx, pipelineID, startedAt)
	if err != nil {
		return ir.PublishPipeline{}, fmt.Errorf("start pipeline: %w", err)
	}
	if !started {
		return ir.PublishPipeline{}, &RuntimeError{
			Code:       ErrCodePipelineBusy,
			Message:    "pipeline is already running",
			PipelineID: pipelineID,
		}
	}

	p.Status = ir.PipelineRunning
	p.StartedAt = &startedAt

	entries, err := x.store.ListEntries(ctx, pipelineID)
	if err != nil {
		return ir.PublishPipeline{}, fmt.Errorf("list entries: %w", err)
	}

	slog.Info("pipeline started", "pipeline", pipelineID, "entries", len(entries), "branch", p.Branch)

	resolver := newIndexResolver(x.store, p.WorkbookID)
	cancelled := false
	allOK := true

	for i := range entries {
		e := &entries[i]
		if e.Status == ir.EntrySuccess {
			continue
		}

		if ctx.Err() != nil {
			allOK = false
			break
		}
		stop, err := x.store.CancelRequested(ctx, pipelineID)
		if err != nil {
			return ir.PublishPipeline{}, fmt.Errorf("check cancellation: %w", err)
		}
		if stop {
			slog.Info("pipeline cancelled", "pipeline", pipelineID, "next_entry", e.FilePath)
			cancelled = true
			allOK = false
			break
		}

		unlock := x.records.Lock(e.FilePath)
		applyErr := x.runEntry(ctx, p, resolver, e)
		unlock()

		now := x.clock.Now()
		e.AttemptedAt = &now
		if applyErr != nil {
			e.Status = ir.EntryFailed
			e.Error = applyErr.Error()
			allOK = false
			slog.Warn("entry failed",
				"pipeline", pipelineID,
				"file", e.FilePath,
				"phase", e.Phase,
				"error", applyErr,
			)
		} else {
			e.Status = ir.EntrySuccess
			e.Error = ""
			slog.Info("entry applied",
				"pipeline", pipelineID,
				"file", e.FilePath,
				"phase", e.Phase,
				"kind", e.Operation.Kind,
			)
		}
		if err := x.store.UpdateEntry(context.WithoutCancel(ctx), *e); err != nil {
			return ir.PublishPipeline{}, fmt.Errorf("record entry %s: %w", e.ID, err)
		}
	}

	finished := x.clock.Now()
	p.FinishedAt = &finished
	p.Cancelled = cancelled
	p.Status = ir.PipelineCompleted
	if !allOK {
		p.Status = ir.PipelineFailed
	}

	// The final transition is written even when ctx was cancelled.
	wctx := context.WithoutCancel(ctx)
	if err := x.store.UpdatePipeline(wctx, p); err != nil {
		return ir.PublishPipeline{}, fmt.Errorf("finish pipeline: %w", err)
	}
	out, err := x.store.GetPipeline(wctx, pipelineID)
	if err != nil {
		return ir.PublishPipeline{}, fmt.Errorf("finish pipeline: %w", err)
	}

	slog.Info("pipeline finished", "pipeline", pipelineID, "status", out.Status, "cancelled", out.Cancelled)
	return out, nil
}

// runEntry applies one entry and, on success, persists its index and merge
// model effects.
func (x *Executor) runEntry(ctx context.Context, p ir.PublishPipeline, r *indexResolver, e *ir.PipelineEntry) error {
	folder, ok, err := r.folder(ctx, e.FolderID)
	if err != nil {
		return err
	}
	if !ok {
		return NewFolderNotFoundError(e.FolderID)
	}
	conn, err := x.connectors.Get(folder.ConnectorAccount)
	if err != nil {
		return err
	}
	_, filename := splitFilePath(e.FilePath)

	op := e.Operation
	recordID, indexed, err := x.store.RecordIDFor(ctx, p.WorkbookID, folder.Path, filename)
	if err != nil {
		return err
	}

	switch e.Phase {
	case ir.PhaseCreate:
		// A record that acquired an identity since planning is updated
		// rather than created twice.
		if indexed {
			op.Kind = ir.OpUpdate
			op.RecordID = recordID
		}
	case ir.PhaseEdit, ir.PhaseDelete:
		if !indexed {
			return fmt.Errorf("%s has no remote identity", e.FilePath)
		}
		op.RecordID = recordID
	case ir.PhaseBackfill:
		if !indexed {
			return fmt.Errorf("%s has no remote identity", e.FilePath)
		}
		op.RecordID = recordID
		if err := x.resolveBackfill(ctx, p.WorkbookID, r, &op); err != nil {
			return err
		}
	}

	if len(op.FieldErrors) > 0 && len(op.Fields) == 0 && op.Kind != ir.OpDelete {
		return fmt.Errorf("no field could be transformed: %s", op.FieldErrors[0].Message)
	}

	res, err := conn.Apply(ctx, op)
	if err != nil {
		return err
	}

	// Local effects of an applied operation must not be lost to a
	// cancelled caller.
	wctx := context.WithoutCancel(ctx)
	now := x.clock.Now()

	switch op.Kind {
	case ir.OpCreate:
		recordID = res.RecordID
		if err := x.store.Upsert(wctx, ir.FileIndexEntry{
			WorkbookID:     p.WorkbookID,
			FolderPath:     folder.Path,
			Filename:       filename,
			RemoteRecordID: recordID,
			LastSeenAt:     now,
		}); err != nil {
			return fmt.Errorf("index created record: %w", err)
		}
	case ir.OpDelete:
		if err := x.store.DeleteIndex(wctx, p.WorkbookID, folder.Path, filename); err != nil {
			return fmt.Errorf("unindex deleted record: %w", err)
		}
		if err := x.store.DeleteFile(wctx, folder.ID, filename); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("remove deleted file: %w", err)
		}
		return nil
	}

	if err := x.recordRefs(wctx, p, folder, e.FilePath, op); err != nil {
		return err
	}
	if e.Phase == ir.PhaseBackfill {
		return nil
	}

	key := merge.Key{FolderID: folder.ID, Filename: filename}
	_, err = x.model.Update(wctx, key, func(st *merge.State) error {
		for field, v := range op.Published {
			st.MarkPublished(field, v, false)
		}
		for _, field := range op.PublishedDeletes {
			st.MarkPublished(field, nil, true)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("advance merge state: %w", err)
	}
	return nil
}

// resolveBackfill fills the deferred references of a backfill operation
// from the current index and local files.
func (x *Executor) resolveBackfill(ctx context.Context, workbookID string, r *indexResolver, op *ir.Operation) error {
	if op.Fields == nil {
		op.Fields = make(map[string]any)
	}
	for i := range op.Refs {
		b := &op.Refs[i]
		targetPath := b.TargetFolderPath
		if f, ok, err := r.folder(ctx, b.TargetFolderID); err == nil && ok {
			targetPath = f.Path
			b.TargetFolderPath = f.Path
		}
		id, ok, err := x.store.RecordIDFor(ctx, workbookID, targetPath, b.TargetFileName)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reference %s -> %s still has no remote identity", b.SourceField, ir.JoinPath(targetPath, b.TargetFileName))
		}
		b.TargetRecordID = id
		b.Deferred = false

		switch transform.Type(b.Kind) {
		case transform.TypeLookupField:
			content, found, err := r.FileContent(ctx, b.TargetFolderID, b.TargetFileName)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("referenced file %s not found", ir.JoinPath(targetPath, b.TargetFileName))
			}
			v, _, err := transform.Lookup(content, b.LookupPath)
			if err != nil {
				return err
			}
			transform.SetDotted(op.Fields, b.DestinationField, v)
		default:
			transform.SetDotted(op.Fields, b.DestinationField, id)
		}
	}
	return nil
}

// recordRefs writes the ref index for an applied operation: one row per
// binding, and removal of rows for reference fields that no longer carry a
// reference.
func (x *Executor) recordRefs(ctx context.Context, p ir.PublishPipeline, folder ir.DataFolder, filePath string, op ir.Operation) error {
	now := x.clock.Now()
	bound := make(map[string]bool, len(op.Refs))
	for _, b := range op.Refs {
		bound[b.SourceField] = true
		if err := x.store.UpsertRef(ctx, ir.RefIndexEntry{
			WorkbookID:       p.WorkbookID,
			SourceFilePath:   filePath,
			SourceField:      b.SourceField,
			DestinationField: b.DestinationField,
			Kind:             b.Kind,
			TargetFolderPath: b.TargetFolderPath,
			TargetFileName:   b.TargetFileName,
			TargetRecordID:   b.TargetRecordID,
			LookupPath:       b.LookupPath,
			Branch:           p.Branch,
			UpdatedAt:        now,
		}); err != nil {
			return fmt.Errorf("index reference %s: %w", b.SourceField, err)
		}
	}
	if op.Kind == ir.OpUpdate && len(op.Published) == 0 && len(op.PublishedDeletes) == 0 {
		return nil
	}

	published := make(map[string]bool, len(op.Published)+len(op.PublishedDeletes))
	for field := range op.Published {
		published[field] = true
	}
	for _, field := range op.PublishedDeletes {
		published[field] = true
	}
	for _, fe := range folder.FieldMap.Entries() {
		if !transform.IsReference(fe.Transformer) || bound[fe.Source] {
			continue
		}
		if op.Kind != ir.OpCreate && !published[topField(fe.Source)] {
			continue
		}
		if err := x.store.DeleteRef(ctx, p.WorkbookID, filePath, fe.Source, p.Branch); err != nil {
			return fmt.Errorf("drop reference %s: %w", fe.Source, err)
		}
	}
	return nil
}
