package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/store"
	"github.com/roach88/syncbook/internal/transform"
	"github.com/roach88/syncbook/internal/workbook"
)

// Plan is a planned pipeline together with its entries in execution order.
type Plan struct {
	Pipeline ir.PublishPipeline `json:"pipeline"`
	Entries  []ir.PipelineEntry `json:"entries"`
}

// Planner computes publish pipelines from the merge model state of local
// files and the correspondence index. Planning reads only; it never calls a
// connector and never writes the store.
type Planner struct {
	store *store.Store
	clock Clock
	ids   IDGenerator
}

// NewPlanner creates a planner.
func NewPlanner(s *store.Store, clock Clock, ids IDGenerator) *Planner {
	return &Planner{store: s, clock: clock, ids: ids}
}

// planRun is the working state of one Plan call.
type planRun struct {
	workbookID string
	branch     string
	resolver   *indexResolver
	byID       map[string]ir.DataFolder
	byPath     map[string]ir.DataFolder
	selected   map[string]bool

	entries []ir.PipelineEntry
	creates map[string]bool // file key -> created in this plan
	deletes map[string]bool // file key -> deleted in this plan
	bound   map[string]bool // source path + "#" + source field -> ref planned
}

func fileKey(folderID, filename string) string { return folderID + "/" + filename }

// Plan classifies every dirty record within scope into a phase and
// materializes its operation. Records are visited folder by folder in path
// order and file by file in name order; the returned entries are stably
// sorted by phase.
func (p *Planner) Plan(ctx context.Context, workbookID string, scope ir.Scope, branch string) (Plan, error) {
	filter, err := CompileScope(scope)
	if err != nil {
		return Plan{}, &RuntimeError{Code: ErrCodeInvalidScope, Message: err.Error()}
	}

	folders, err := p.store.ListFolders(ctx, workbookID)
	if err != nil {
		return Plan{}, fmt.Errorf("plan: %w", err)
	}
	if err := checkFolderTree(folders); err != nil {
		return Plan{}, err
	}

	run := &planRun{
		workbookID: workbookID,
		branch:     branch,
		resolver:   newIndexResolver(p.store, workbookID),
		byID:       make(map[string]ir.DataFolder, len(folders)),
		byPath:     make(map[string]ir.DataFolder, len(folders)),
		selected:   make(map[string]bool),
		creates:    make(map[string]bool),
		deletes:    make(map[string]bool),
		bound:      make(map[string]bool),
	}
	run.resolver.seed(folders)
	for _, f := range folders {
		run.byID[f.ID] = f
		run.byPath[f.Path] = f
	}
	for _, id := range scope.FolderIDs {
		if _, ok := run.byID[id]; !ok {
			return Plan{}, NewFolderNotFoundError(id)
		}
	}

	var folderIDs []string
	for _, f := range folders {
		if !filter.MatchFolder(f.ID) || !f.Bound() {
			continue
		}
		if f.SourceSchema != nil && f.DestSchema != nil {
			if errs := mapping.Blocking(mapping.Validate(f.SourceSchema, f.DestSchema, f.FieldMap), f.FieldMap); len(errs) > 0 {
				return Plan{}, invalidMappingError(f.ID, errs)
			}
		}
		run.selected[f.ID] = true
		folderIDs = append(folderIDs, f.ID)
	}
	slices.Sort(folderIDs)

	for _, f := range folders {
		if !run.selected[f.ID] {
			continue
		}
		if err := p.planFolder(ctx, run, filter, f); err != nil {
			return Plan{}, err
		}
	}
	if err := p.planBackfill(ctx, run, filter); err != nil {
		return Plan{}, err
	}

	pipeline := ir.PublishPipeline{
		ID:         p.ids.Generate(),
		WorkbookID: workbookID,
		Scope:      scope,
		Branch:     branch,
		FolderIDs:  nonNil(folderIDs),
		Status:     ir.PipelinePlanned,
		CreatedAt:  p.clock.Now(),
	}
	for i := range run.entries {
		e := &run.entries[i]
		e.PipelineID = pipeline.ID
		e.Seq = i
		e.Status = ir.EntryPending
		id, err := ir.EntryID(pipeline.ID, e.Key())
		if err != nil {
			return Plan{}, fmt.Errorf("plan: %w", err)
		}
		e.ID = id
	}
	ir.SortEntries(run.entries)
	pipeline.Phases = nonNil(ir.PhasesOf(run.entries))

	slog.Info("pipeline planned",
		"pipeline", pipeline.ID,
		"workbook", workbookID,
		"branch", branch,
		"entries", len(run.entries),
		"phases", pipeline.Phases,
	)
	return Plan{Pipeline: pipeline, Entries: nonNil(run.entries)}, nil
}

func (p *Planner) planFolder(ctx context.Context, run *planRun, filter *ScopeFilter, f ir.DataFolder) error {
	files, err := p.store.ListFiles(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("plan folder %s: %w", f.Path, err)
	}

	for _, file := range files {
		st := file.State
		if !st.Dirty() {
			continue
		}
		display := st.Display()
		ok, err := filter.MatchRecord(f.Path, file.Filename, display)
		if err != nil {
			return &RuntimeError{Code: ErrCodeInvalidScope, Message: err.Error(), FolderID: f.ID}
		}
		if !ok {
			continue
		}

		filePath := f.FilePath(file.Filename)
		recordID, indexed, err := p.store.RecordIDFor(ctx, run.workbookID, f.Path, file.Filename)
		if err != nil {
			return fmt.Errorf("plan %s: %w", filePath, err)
		}

		entry := ir.PipelineEntry{FolderID: f.ID, FilePath: filePath}
		switch {
		case st.IsDeleted():
			if !indexed {
				slog.Debug("local delete of unpublished record needs no entry", "file", filePath)
				continue
			}
			entry.Phase = ir.PhaseDelete
			entry.Operation = ir.Operation{Kind: ir.OpDelete, Collection: f.RemoteCollection, RecordID: recordID}
			run.deletes[fileKey(f.ID, file.Filename)] = true

		case !indexed:
			entry.Phase = ir.PhaseCreate
			entry.Operation = materialize(ctx, run.resolver, f, st, nil)
			entry.Operation.Kind = ir.OpCreate
			run.creates[fileKey(f.ID, file.Filename)] = true

		default:
			staged := make(map[string]bool)
			for _, field := range st.StagedFields() {
				staged[field] = true
			}
			op := materialize(ctx, run.resolver, f, st, staged)
			op.Kind = ir.OpUpdate
			op.RecordID = recordID
			if op.Empty() && len(op.FieldErrors) == 0 {
				slog.Debug("staged fields are not mapped", "file", filePath, "fields", st.StagedFields())
				continue
			}
			entry.Phase = ir.PhaseEdit
			entry.Operation = op
		}

		for _, r := range entry.Operation.Refs {
			run.bound[filePath+"#"+r.SourceField] = true
		}
		run.entries = append(run.entries, entry)
	}
	return nil
}

// planBackfill emits one backfill entry per source file whose deferred
// references can resolve now or once this pipeline's creates have run.
func (p *Planner) planBackfill(ctx context.Context, run *planRun, filter *ScopeFilter) error {
	type pending struct {
		folder ir.DataFolder
		path   string
		refs   []ir.RefBinding
	}
	var order []string
	bySource := make(map[string]*pending)
	add := func(f ir.DataFolder, path string, b ir.RefBinding) {
		pd, ok := bySource[path]
		if !ok {
			pd = &pending{folder: f, path: path}
			bySource[path] = pd
			order = append(order, path)
		}
		for _, existing := range pd.refs {
			if existing.SourceField == b.SourceField {
				return
			}
		}
		pd.refs = append(pd.refs, b)
	}

	// References deferred by entries of this plan whose targets it creates.
	for _, e := range run.entries {
		if e.Phase == ir.PhaseDelete {
			continue
		}
		for _, b := range e.Operation.Deferred() {
			if run.creates[fileKey(b.TargetFolderID, b.TargetFileName)] {
				add(run.byID[e.FolderID], e.FilePath, b)
			}
		}
	}

	// References deferred by earlier runs.
	deferred, err := p.store.ListDeferredRefs(ctx, run.workbookID, run.branch)
	if err != nil {
		return fmt.Errorf("plan backfill: %w", err)
	}
	for _, ref := range deferred {
		if run.bound[ref.SourceFilePath+"#"+ref.SourceField] {
			continue
		}
		folderPath, filename := splitFilePath(ref.SourceFilePath)
		src, ok := run.byPath[folderPath]
		if !ok || !run.selected[src.ID] {
			continue
		}
		srcKey := fileKey(src.ID, filename)
		if run.deletes[srcKey] {
			continue
		}

		file, err := p.store.GetFile(ctx, src.ID, filename)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("plan backfill %s: %w", ref.SourceFilePath, err)
		}
		if file.State.IsDeleted() {
			continue
		}
		ok, err = filter.MatchRecord(src.Path, filename, file.State.Display())
		if err != nil {
			return &RuntimeError{Code: ErrCodeInvalidScope, Message: err.Error(), FolderID: src.ID}
		}
		if !ok {
			continue
		}
		if _, indexed, err := p.store.RecordIDFor(ctx, run.workbookID, src.Path, filename); err != nil {
			return fmt.Errorf("plan backfill %s: %w", ref.SourceFilePath, err)
		} else if !indexed && !run.creates[srcKey] {
			continue
		}

		target, ok := run.byPath[ref.TargetFolderPath]
		if !ok {
			continue
		}
		targetKey := fileKey(target.ID, ref.TargetFileName)
		if run.deletes[targetKey] {
			continue
		}
		_, resolved, err := p.store.RecordIDFor(ctx, run.workbookID, target.Path, ref.TargetFileName)
		if err != nil {
			return fmt.Errorf("plan backfill %s: %w", ref.SourceFilePath, err)
		}
		if !resolved && !run.creates[targetKey] {
			continue
		}

		add(src, ref.SourceFilePath, ir.RefBinding{
			SourceField:      ref.SourceField,
			DestinationField: ref.DestinationField,
			Kind:             ref.Kind,
			TargetFolderID:   target.ID,
			TargetFolderPath: target.Path,
			TargetFileName:   ref.TargetFileName,
			LookupPath:       ref.LookupPath,
			Deferred:         true,
		})
	}

	for _, path := range order {
		pd := bySource[path]
		slices.SortStableFunc(pd.refs, func(a, b ir.RefBinding) int { return strings.Compare(a.SourceField, b.SourceField) })
		run.entries = append(run.entries, ir.PipelineEntry{
			FolderID: pd.folder.ID,
			FilePath: pd.path,
			Phase:    ir.PhaseBackfill,
			Operation: ir.Operation{
				Kind:       ir.OpUpdate,
				Collection: pd.folder.RemoteCollection,
				Refs:       pd.refs,
			},
		})
	}
	return nil
}

// materialize applies the folder's field map to a record. When staged is
// nil every mapped field is included (creates); otherwise only mappings
// whose top-level source field is staged are (edits). A staged field
// deletion clears its destination. Transformer hard errors drop the field
// and are reported per field; the field then stays staged.
//
// A reference that cannot be resolved yet is sent as null.
func materialize(ctx context.Context, r *indexResolver, f ir.DataFolder, st merge.State, staged map[string]bool) ir.Operation {
	op := ir.Operation{
		Collection: f.RemoteCollection,
		Fields:     make(map[string]any),
		Published:  make(map[string]any),
	}
	display := st.Display()
	included := make(map[string]bool)
	failed := make(map[string]bool)

	for _, e := range f.FieldMap.Entries() {
		top := topField(e.Source)
		if staged != nil && !staged[top] {
			continue
		}
		v, present := transform.GetDotted(display, e.Source)
		if !present {
			if staged != nil {
				transform.SetDotted(op.Fields, e.Destination, nil)
				included[top] = true
			}
			continue
		}

		res := transform.Apply(ctx, e.Transformer, v, r)
		if !res.OK() {
			op.FieldErrors = append(op.FieldErrors, ir.FieldError{
				SourceField:      e.Source,
				DestinationField: e.Destination,
				Message:          res.Error,
			})
			failed[top] = true
			continue
		}
		transform.SetDotted(op.Fields, e.Destination, res.Value)
		included[top] = true
		if res.Warning != "" {
			op.Warnings = append(op.Warnings, e.Source+": "+res.Warning)
		}
		if transform.IsReference(e.Transformer) && v != nil {
			op.Refs = append(op.Refs, bindingFor(ctx, r, e, v, res))
		}
	}

	// A create confirms the whole local record; an edit only the fields it
	// carried.
	for _, field := range st.StagedFields() {
		if failed[field] || (staged != nil && !included[field]) {
			continue
		}
		sv := st.Staged[field]
		if sv.Tombstone {
			op.PublishedDeletes = append(op.PublishedDeletes, field)
			continue
		}
		op.Published[field] = sv.Data
	}
	return op
}

// bindingFor describes the reference a transformer followed. A lookup
// whose target has no remote identity yet is deferred as well, so a later
// backfill refreshes the value once the target is published.
func bindingFor(ctx context.Context, r *indexResolver, e mapping.Entry, v any, res transform.Result) ir.RefBinding {
	b := ir.RefBinding{
		SourceField:      e.Source,
		DestinationField: e.Destination,
		Kind:             string(e.Transformer.Type()),
	}
	switch c := e.Transformer.(type) {
	case transform.SourceFKToDestFK:
		b.TargetFolderID = c.ReferencedFolderID
	case transform.LookupField:
		b.TargetFolderID = c.ReferencedFolderID
		b.LookupPath = c.ReferencedFieldPath
	}
	b.TargetFolderPath = r.folderPath(ctx, b.TargetFolderID)
	b.TargetFileName, _ = transform.ReferenceName(v)

	if res.Deferred != nil {
		b.Deferred = true
		return b
	}
	if id, ok, err := r.RecordID(ctx, b.TargetFolderID, b.TargetFileName); err == nil && ok {
		b.TargetRecordID = id
	} else {
		b.Deferred = true
	}
	return b
}

// checkFolderTree rejects cyclic or inconsistent parent relationships.
func checkFolderTree(folders []ir.DataFolder) error {
	tree, err := workbook.NewTree(folders)
	if err != nil {
		err = treeError("", err)
		if _, ok := CodeOf(err); ok {
			return err
		}
		return &RuntimeError{Code: ErrCodeFolderCycle, Message: err.Error()}
	}
	for _, f := range folders {
		if p, err := tree.Path(f.ID); err != nil || p != f.Path {
			return &RuntimeError{
				Code:     ErrCodeFolderCycle,
				Message:  fmt.Sprintf("stored path %q disagrees with parent chain %q", f.Path, p),
				FolderID: f.ID,
			}
		}
	}
	return nil
}

func invalidMappingError(folderID string, errs []mapping.MappingError) *RuntimeError {
	details := make(map[string]string, len(errs))
	msgs := make([]string, 0, len(errs))
	for i, e := range errs {
		details[fmt.Sprintf("error_%d", i)] = e.Message
		msgs = append(msgs, e.Message)
	}
	return &RuntimeError{
		Code:     ErrCodeInvalidMapping,
		Message:  strings.Join(msgs, "; "),
		FolderID: folderID,
		Details:  details,
	}
}

func topField(path string) string {
	top, _, _ := strings.Cut(path, ".")
	return top
}

// splitFilePath splits "a/b/c.json" into "a/b" and "c.json".
func splitFilePath(p string) (string, string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
