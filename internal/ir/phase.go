package ir

import (
	"fmt"
	"sort"
)

// Phase is the fixed-priority class of a pipeline entry.
type Phase int

const (
	PhaseEdit Phase = iota
	PhaseCreate
	PhaseDelete
	PhaseBackfill
)

// AllPhases lists phases in execution order.
var AllPhases = []Phase{PhaseEdit, PhaseCreate, PhaseDelete, PhaseBackfill}

var phaseNames = map[Phase]string{
	PhaseEdit:     "edit",
	PhaseCreate:   "create",
	PhaseDelete:   "delete",
	PhaseBackfill: "backfill",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase parses a phase name.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	if _, ok := phaseNames[p]; !ok {
		return nil, fmt.Errorf("unknown phase %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	v, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// PipelineStatus is the lifecycle state of a pipeline.
type PipelineStatus string

const (
	PipelinePlanned   PipelineStatus = "planned"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s PipelineStatus) Terminal() bool {
	return s == PipelineCompleted || s == PipelineFailed
}

// EntryStatus is the execution state of one entry.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
)

// SortEntries orders entries by phase. Entries within a phase keep their
// relative order.
func SortEntries(entries []PipelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Phase < entries[j].Phase
	})
}

// PhasesOf returns the distinct phases present in entries, in phase order.
func PhasesOf(entries []PipelineEntry) []Phase {
	seen := make(map[Phase]bool)
	for _, e := range entries {
		seen[e.Phase] = true
	}
	var out []Phase
	for _, p := range AllPhases {
		if seen[p] {
			out = append(out, p)
		}
	}
	return out
}
