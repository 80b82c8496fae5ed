package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/store"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// evaluate checks every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, result *Result) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.check(ctx, a, result); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) check(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertPipeline:
		return assertPipeline(result.lastPipeline(), a)
	case AssertRemoteRecord:
		return h.assertRemoteRecord(ctx, a)
	case AssertRemoteCount:
		return h.assertRemoteCount(ctx, a)
	case AssertIndexed, AssertNotIndexed:
		return h.assertIndexed(ctx, a)
	case AssertFile:
		return h.assertFile(ctx, a)
	case AssertNoFile:
		return h.assertNoFile(ctx, a)
	case AssertClean:
		return h.assertClean(ctx)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertPipeline matches the last publish. Expect may name status plus the
// number of entries per entry status, e.g. {status: failed, success: 2,
// failed: 1}.
func assertPipeline(run *PipelineRun, a Assertion) error {
	if run == nil {
		return &AssertionError{Type: a.Type, Expected: "a publish step", Actual: "no pipeline in trace"}
	}
	actual := map[string]any{
		"status":                run.Status,
		"entries":               len(run.Entries),
		string(ir.EntryPending): 0,
		string(ir.EntrySuccess): 0,
		string(ir.EntryFailed):  0,
	}
	for _, e := range run.Entries {
		actual[e.Status] = actual[e.Status].(int) + 1
	}
	if !subsetMatch(actual, a.Expect) {
		return &AssertionError{Type: a.Type, Expected: format(a.Expect), Actual: format(actual)}
	}
	return nil
}

func (h *Harness) assertRemoteRecord(ctx context.Context, a Assertion) error {
	mem, err := h.memory(a.Account)
	if err != nil {
		return err
	}
	recs, err := mem.ListRecords(ctx, a.Collection)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if subsetMatch(r.Fields, a.Match) {
			if !subsetMatch(r.Fields, a.Expect) {
				return &AssertionError{Type: a.Type, Expected: format(a.Expect), Actual: format(r.Fields)}
			}
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("record in %s/%s matching %s", a.Account, a.Collection, format(a.Match)),
		Actual:   fmt.Sprintf("%d records, none matching", len(recs)),
	}
}

func (h *Harness) assertRemoteCount(ctx context.Context, a Assertion) error {
	mem, err := h.memory(a.Account)
	if err != nil {
		return err
	}
	recs, err := mem.ListRecords(ctx, a.Collection)
	if err != nil {
		return err
	}
	if len(recs) != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d records", *a.Count), Actual: fmt.Sprintf("%d records", len(recs))}
	}
	return nil
}

func (h *Harness) assertIndexed(ctx context.Context, a Assertion) error {
	dir, name := splitFilePath(a.File)
	_, ok, err := h.store.RecordIDFor(ctx, h.workbook, dir, name)
	if err != nil {
		return err
	}
	want := a.Type == AssertIndexed
	if ok != want {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("indexed=%t for %s", want, a.File), Actual: fmt.Sprintf("indexed=%t", ok)}
	}
	return nil
}

func (h *Harness) assertFile(ctx context.Context, a Assertion) error {
	f, err := h.engine.GetFile(ctx, h.workbook, a.Folder, a.File)
	if err != nil {
		return err
	}
	display := f.State.Display()
	if !subsetMatch(display, a.Expect) {
		return &AssertionError{Type: a.Type, Expected: format(a.Expect), Actual: format(display)}
	}
	return nil
}

func (h *Harness) assertNoFile(ctx context.Context, a Assertion) error {
	_, err := h.store.GetFile(ctx, a.Folder, a.File)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	return &AssertionError{Type: a.Type, Expected: "no local file " + a.Folder + "/" + a.File, Actual: "file exists"}
}

// assertClean plans everything and expects no entries.
func (h *Harness) assertClean(ctx context.Context) error {
	plan, err := h.engine.PlanPublish(ctx, h.workbook, ir.Scope{}, "")
	if err != nil {
		return err
	}
	if len(plan.Entries) > 0 {
		keys := make([]string, len(plan.Entries))
		for i, e := range plan.Entries {
			keys[i] = e.Key().String()
		}
		return &AssertionError{Type: AssertClean, Expected: "nothing to publish", Actual: strings.Join(keys, ", ")}
	}
	return nil
}

func splitFilePath(p string) (string, string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// subsetMatch reports whether every key of expected is present in actual
// with an equal value.
func subsetMatch(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares through JSON so that YAML ints match float64 and
// int64 values produced by transformers.
func valuesEqual(actual, expected any) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	a, errA := json.Marshal(actual)
	e, errE := json.Marshal(expected)
	if errA != nil || errE != nil {
		return false
	}
	var av, ev any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(e, &ev) != nil {
		return false
	}
	return reflect.DeepEqual(av, ev)
}

func format(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
