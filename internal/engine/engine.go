package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/store"
)

// DefaultBranch is the ref index branch used when none is configured.
const DefaultBranch = "published"

// DefaultWorkers is the number of queue workers started by Run.
const DefaultWorkers = 2

// Engine is the publish service of one database.
//
// Plans are computed synchronously; running a pipeline or a pull pass is
// queued and executed by the workers started with Run. Callers poll the
// pipeline, or Wait for it.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - Run must be called at most once
//
// INVARIANTS:
//   - a folder is held by at most one pipeline or pull at a time; a
//     request touching a held folder is rejected, never queued
//   - lock ownership is taken before a job is queued and released by the
//     worker that finishes it
type Engine struct {
	store      *store.Store
	model      *merge.Model
	connectors *connector.Registry
	planner    *Planner
	executor   *Executor
	locks      *FolderLocks
	queue      *jobQueue
	ids        IDGenerator
	clock      Clock
	branch     string
	workers    int

	mu     sync.Mutex
	jobs   map[string]*job
	claims map[string]struct{} // pipelines holding their folder locks
	pulls  map[string]pullOutcome

	stop     chan struct{}
	stopOnce sync.Once
}

type pullOutcome struct {
	report PullReport
	err    error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source for pipeline and index timestamps.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the generator for pipeline, job and local file ids.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithBranch sets the default ref index branch.
func WithBranch(branch string) EngineOption {
	return func(e *Engine) {
		if branch != "" {
			e.branch = branch
		}
	}
}

// WithWorkers sets the number of queue workers. Values below 1 are ignored.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engine over s. Folder connector accounts are resolved
// through connectors.
func New(s *store.Store, connectors *connector.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      s,
		model:      merge.NewModel(s),
		connectors: connectors,
		locks:      NewFolderLocks(),
		queue:      newJobQueue(),
		ids:        UUIDv7Generator{},
		clock:      SystemClock{},
		branch:     DefaultBranch,
		workers:    DefaultWorkers,
		jobs:       make(map[string]*job),
		claims:     make(map[string]struct{}),
		pulls:      make(map[string]pullOutcome),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.planner = NewPlanner(s, e.clock, e.ids)
	e.executor = NewExecutor(s, e.model, connectors, e.clock)
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Branch returns the default ref index branch.
func (e *Engine) Branch() string { return e.branch }

// Run starts the queue workers and blocks until ctx is cancelled or Stop
// is called. Jobs still queued at shutdown are abandoned and their locks
// released; their pipelines stay planned.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "workers", e.workers)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.work(ctx, worker)
		}(i)
	}

	select {
	case <-ctx.Done():
		slog.Info("engine stopping: context cancelled")
	case <-e.stop:
		slog.Info("engine stopping: queue closed")
	}
	e.queue.Close()
	wg.Wait()

	for _, j := range e.queue.Drain() {
		if j.Kind == JobPull {
			e.recordPull(j.ID, PullReport{}, &RuntimeError{Code: ErrCodeStopped, Message: "engine stopped before the pull ran", FolderID: j.FolderID})
		}
		e.finish(j)
	}
	return ctx.Err()
}

// Stop closes the queue. Run returns once in-flight jobs finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.queue.Close()
		close(e.stop)
	})
}

func (e *Engine) work(ctx context.Context, worker int) {
	slog.Debug("worker started", "worker", worker)
	for {
		if j, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, j)
			continue
		}
		if e.queue.Closed() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-e.queue.Wait():
		}
	}
}

// process runs one job. Errors are logged and recorded; they never stop the
// worker.
func (e *Engine) process(ctx context.Context, j *job) {
	switch j.Kind {
	case JobRunPipeline:
		_, err := e.executor.Run(ctx, j.ID)
		if err != nil {
			slog.Error("pipeline run failed", "pipeline", j.ID, "error", err)
		}
		e.finish(j)

	case JobPull:
		report, err := e.pull(ctx, j.WorkbookID, j.FolderID)
		if err != nil {
			slog.Error("pull failed", "job", j.ID, "folder", j.FolderID, "error", err)
		}
		e.recordPull(j.ID, report, err)
		e.finish(j)

	default:
		slog.Error("unknown job kind", "job", j.ID, "kind", j.Kind)
		e.finish(j)
	}
}

// finish releases the locks of j and wakes its waiters.
func (e *Engine) finish(j *job) {
	e.mu.Lock()
	delete(e.jobs, j.ID)
	e.mu.Unlock()
	e.release(j.ID)
	close(j.done)
}

// release drops the claim of holder and unlocks its folders.
func (e *Engine) release(holder string) {
	e.mu.Lock()
	delete(e.claims, holder)
	e.mu.Unlock()
	e.locks.Release(holder)
}

// enqueue registers j and queues it. The caller holds j's folder locks;
// they are released if the queue is closed.
func (e *Engine) enqueue(j *job) error {
	j.done = make(chan struct{})
	e.mu.Lock()
	e.jobs[j.ID] = j
	e.mu.Unlock()
	if !e.queue.Enqueue(j) {
		e.mu.Lock()
		delete(e.jobs, j.ID)
		e.mu.Unlock()
		e.release(j.ID)
		return &RuntimeError{Code: ErrCodeStopped, Message: "engine is not accepting work", PipelineID: j.ID}
	}
	return nil
}

// ValidateMapping checks fm against both schemas. It is pure and never
// fails; problems are returned as a list.
func (e *Engine) ValidateMapping(source, dest *schema.Node, fm mapping.FieldMap) []mapping.MappingError {
	errs := mapping.Validate(source, dest, fm)
	if errs == nil {
		return []mapping.MappingError{}
	}
	return errs
}

// PlanPublish plans a pipeline over scope and persists it as planned. An
// empty branch selects the engine default. Planning is rejected when a
// selected folder is engaged in another pipeline or pull.
func (e *Engine) PlanPublish(ctx context.Context, workbookID string, scope ir.Scope, branch string) (Plan, error) {
	if branch == "" {
		branch = e.branch
	}
	plan, err := e.planner.Plan(ctx, workbookID, scope, branch)
	if err != nil {
		return Plan{}, err
	}
	for _, id := range plan.Pipeline.FolderIDs {
		if holder, held := e.locks.Holder(id); held {
			slog.Warn("publish rejected: folder locked", "folder", id, "holder", holder)
			return Plan{}, NewLockedError(id, holder)
		}
	}
	if err := e.store.CreatePipeline(ctx, plan.Pipeline, plan.Entries); err != nil {
		return Plan{}, fmt.Errorf("save plan: %w", err)
	}
	return plan, nil
}

// GetPipeline returns a pipeline of the workbook.
func (e *Engine) GetPipeline(ctx context.Context, workbookID, pipelineID string) (ir.PublishPipeline, error) {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.WorkbookID != workbookID) {
		return ir.PublishPipeline{}, NewPipelineNotFoundError(pipelineID)
	}
	if err != nil {
		return ir.PublishPipeline{}, err
	}
	return p, nil
}

// RunPublish queues pipelineID for execution and returns its current
// state. The pipeline's folders are locked until the run finishes.
func (e *Engine) RunPublish(ctx context.Context, workbookID, pipelineID string) (ir.PublishPipeline, error) {
	p, err := e.claim(ctx, workbookID, pipelineID)
	if err != nil {
		return ir.PublishPipeline{}, err
	}
	if err := e.enqueue(&job{Kind: JobRunPipeline, ID: p.ID, WorkbookID: workbookID}); err != nil {
		return ir.PublishPipeline{}, err
	}
	slog.Info("pipeline queued", "pipeline", p.ID, "folders", p.FolderIDs)
	return p, nil
}

// RunPublishSync runs pipelineID on the calling goroutine, under the same
// folder locks as a queued run.
func (e *Engine) RunPublishSync(ctx context.Context, workbookID, pipelineID string) (ir.PublishPipeline, error) {
	p, err := e.claim(ctx, workbookID, pipelineID)
	if err != nil {
		return ir.PublishPipeline{}, err
	}
	defer e.release(p.ID)
	return e.executor.Run(ctx, p.ID)
}

// claim checks that a pipeline can start and takes its folder locks. The
// check and the acquisition happen under one critical section, so of two
// concurrent claims for the same pipeline exactly one succeeds; the loser
// holds nothing and must not release.
func (e *Engine) claim(ctx context.Context, workbookID, pipelineID string) (ir.PublishPipeline, error) {
	p, err := e.GetPipeline(ctx, workbookID, pipelineID)
	if err != nil {
		return ir.PublishPipeline{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, queued := e.jobs[p.ID]
	_, claimed := e.claims[p.ID]
	if queued || claimed || p.Status == ir.PipelineRunning {
		return ir.PublishPipeline{}, &RuntimeError{
			Code:       ErrCodePipelineBusy,
			Message:    "pipeline is already queued or running",
			PipelineID: pipelineID,
		}
	}
	if err := e.locks.TryAcquire(p.ID, p.FolderIDs...); err != nil {
		slog.Warn("publish rejected: folder locked", "pipeline", p.ID, "error", err)
		var re *RuntimeError
		if errors.As(err, &re) {
			re.PipelineID = p.ID
		}
		return ir.PublishPipeline{}, err
	}
	e.claims[p.ID] = struct{}{}
	return p, nil
}

// Wait blocks until a queued pipeline has finished and returns its state.
// A pipeline that is not queued is returned as is.
func (e *Engine) Wait(ctx context.Context, workbookID, pipelineID string) (ir.PublishPipeline, error) {
	e.mu.Lock()
	j, ok := e.jobs[pipelineID]
	e.mu.Unlock()
	if ok {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ir.PublishPipeline{}, ctx.Err()
		}
	}
	return e.GetPipeline(ctx, workbookID, pipelineID)
}

// CancelPipeline requests cancellation of a planned or running pipeline.
// The run stops before its next entry. It reports false if the pipeline
// had already finished.
func (e *Engine) CancelPipeline(ctx context.Context, workbookID, pipelineID string) (bool, error) {
	if _, err := e.GetPipeline(ctx, workbookID, pipelineID); err != nil {
		return false, err
	}
	ok, err := e.store.RequestCancel(ctx, pipelineID)
	if err != nil {
		return false, err
	}
	if ok {
		slog.Info("pipeline cancellation requested", "pipeline", pipelineID)
	}
	return ok, nil
}

// ListPipelines returns the workbook's pipelines in creation order, optionally
// restricted to pipelines touching scope's folders.
func (e *Engine) ListPipelines(ctx context.Context, workbookID string, scope ir.Scope) ([]ir.PublishPipeline, error) {
	return e.store.ListPipelines(ctx, workbookID, scope.FolderIDs)
}

// ListPipelineEntries returns the entries of a pipeline in execution order.
func (e *Engine) ListPipelineEntries(ctx context.Context, workbookID, pipelineID string) ([]ir.PipelineEntry, error) {
	if _, err := e.GetPipeline(ctx, workbookID, pipelineID); err != nil {
		return nil, err
	}
	return e.store.ListEntries(ctx, pipelineID)
}

// ListFileIndex returns the file index of a workbook.
func (e *Engine) ListFileIndex(ctx context.Context, workbookID string) ([]ir.FileIndexEntry, error) {
	return e.store.ListFileIndex(ctx, workbookID)
}

// ListRefIndex returns the ref index of a workbook across branches.
func (e *Engine) ListRefIndex(ctx context.Context, workbookID string) ([]ir.RefIndexEntry, error) {
	return e.store.ListRefIndex(ctx, workbookID)
}

// LockedFolders returns the ids of folders engaged in a run or pull.
func (e *Engine) LockedFolders() []string {
	return e.locks.Locked()
}
