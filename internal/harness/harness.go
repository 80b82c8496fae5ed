package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/syncbook/internal/config"
	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/engine"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/store"
	"github.com/roach88/syncbook/internal/testutil"
)

// Harness drives one scenario against a live engine.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	registry *connector.Registry
	workbook string
	logger   *slog.Logger
}

// Run executes a scenario on a fresh in-memory store.
//
// Execution flow:
//  1. Load the scenario's config and build its connectors and folders
//  2. Save every folder through the engine
//  3. Execute the steps in order, tracing publishes and pulls
//  4. Evaluate the assertions
//
// A returned error means the scenario could not be set up; step and
// assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg, err := config.Load(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := cfg.Connectors()
	if err != nil {
		return nil, fmt.Errorf("failed to build connectors: %w", err)
	}
	folders, err := cfg.DataFolders(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve folders: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	eng := engine.New(st, reg,
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("id")),
		engine.WithBranch(cfg.Branch),
	)
	defer eng.Stop()

	h := &Harness{
		store:    st,
		engine:   eng,
		registry: reg,
		workbook: cfg.Workbook,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, f := range folders {
		f.WorkbookID = cfg.Workbook
		if _, err := eng.SaveFolder(ctx, f); err != nil {
			return nil, fmt.Errorf("failed to save folder %s: %w", f.ID, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and records its outcome. A step error that
// does not match ExpectError fails the result.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	name, _ := step.action()
	ev := TraceEvent{Step: name}

	err := h.apply(ctx, step, &ev)
	if err != nil {
		ev.Error = err.Error()
	}

	switch {
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got none", i, name, step.ExpectError))
	case step.ExpectError != "":
		code, _ := engine.CodeOf(err)
		if string(code) != step.ExpectError {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %v", i, name, step.ExpectError, err))
		}
		ev.Error = step.ExpectError
	case err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, name, err))
	}

	h.logger.Info("step executed", "step", i, "action", name, "error", ev.Error)
	if ev.Pipeline != nil || ev.Pull != nil || ev.Error != "" {
		result.addEvent(ev)
	}
}

func (h *Harness) apply(ctx context.Context, step Step, ev *TraceEvent) error {
	wb := h.workbook
	switch {
	case step.Create != nil:
		s := step.Create
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.CreateFile(ctx, wb, s.Folder, s.File, s.Content)
		return err
	case step.Stage != nil:
		s := step.Stage
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.Stage(ctx, wb, s.Folder, s.File, s.Field, s.Value)
		return err
	case step.DeleteField != nil:
		s := step.DeleteField
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.StageFieldDelete(ctx, wb, s.Folder, s.File, s.Field)
		return err
	case step.Unstage != nil:
		s := step.Unstage
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.Unstage(ctx, wb, s.Folder, s.File, s.Field)
		return err
	case step.Delete != nil:
		s := step.Delete
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.DeleteRecord(ctx, wb, s.Folder, s.File)
		return err
	case step.Suggest != nil:
		s := step.Suggest
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.Suggest(ctx, wb, s.Folder, s.File, s.Field, s.Value, s.Delete)
		return err
	case step.Accept != nil:
		s := step.Accept
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.Accept(ctx, wb, s.Folder, s.File, s.Field)
		return err
	case step.Reject != nil:
		s := step.Reject
		ev.Target = s.Folder + "/" + s.File
		_, err := h.engine.Reject(ctx, wb, s.Folder, s.File, s.Field)
		return err
	case step.Seed != nil:
		s := step.Seed
		mem, err := h.memory(s.Account)
		if err != nil {
			return err
		}
		mem.Seed(s.Collection, s.ID, s.Fields)
		return nil
	case step.Remove != nil:
		s := step.Remove
		mem, err := h.memory(s.Account)
		if err != nil {
			return err
		}
		mem.Remove(s.Collection, s.ID)
		return nil
	case step.Fail != nil:
		s := step.Fail
		mem, err := h.memory(s.Account)
		if err != nil {
			return err
		}
		mem.InjectFailure(connector.FailureRule{
			Collection: s.Collection,
			Kind:       ir.OperationKind(s.Kind),
			Match:      s.Match,
			Retryable:  s.Retryable,
			Message:    s.Message,
			Times:      s.Times,
		})
		return nil
	case step.Publish != nil:
		return h.publish(ctx, *step.Publish, ev)
	case step.Pull != nil:
		ev.Target = step.Pull.Folder
		report, err := h.engine.Pull(ctx, wb, step.Pull.Folder)
		if err != nil {
			return err
		}
		ev.Pull = &PullRun{
			Created:   report.Created,
			Updated:   report.Updated,
			Removed:   report.Removed,
			Conflicts: report.Conflicts,
		}
		return nil
	case step.Move != nil:
		ev.Target = step.Move.Folder
		_, err := h.engine.MoveFolder(ctx, wb, step.Move.Folder, step.Move.Parent)
		return err
	}
	return fmt.Errorf("no action set")
}

func (h *Harness) publish(ctx context.Context, step PublishStep, ev *TraceEvent) error {
	plan, err := h.engine.PlanPublish(ctx, h.workbook, step.scope(), step.Branch)
	if err != nil {
		return err
	}
	done, err := h.engine.RunPublishSync(ctx, h.workbook, plan.Pipeline.ID)
	if err != nil {
		return err
	}
	entries, err := h.engine.ListPipelineEntries(ctx, h.workbook, plan.Pipeline.ID)
	if err != nil {
		return err
	}

	run := &PipelineRun{ID: done.ID, Status: string(done.Status), Entries: make([]EntryRun, len(entries))}
	for i, e := range entries {
		run.Entries[i] = EntryRun{
			File:     e.FilePath,
			Phase:    e.Phase.String(),
			Kind:     string(e.Operation.Kind),
			RecordID: e.Operation.RecordID,
			Status:   string(e.Status),
			Error:    e.Error,
			Warnings: e.Operation.Warnings,
		}
		if len(e.Operation.Fields) > 0 {
			run.Entries[i].Fields = e.Operation.Fields
		}
	}
	ev.Pipeline = run
	return nil
}

func (h *Harness) memory(account string) (*connector.Memory, error) {
	c, err := h.registry.Get(account)
	if err != nil {
		return nil, err
	}
	mem, ok := c.(*connector.Memory)
	if !ok {
		return nil, fmt.Errorf("account %s is not a memory connector", account)
	}
	return mem, nil
}
