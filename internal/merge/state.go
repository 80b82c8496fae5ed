package merge

import (
	"errors"
	"fmt"
	"sort"
)

// RecordKey is the lane key under which a record-level deletion is staged
// or suggested.
const RecordKey = "__deleted"

// ErrNoSuggestion is returned by Accept and Reject when the field has no
// suggested value.
var ErrNoSuggestion = errors.New("no suggestion for field")

// Status classifies the lanes of one field.
type Status string

const (
	StatusClean         Status = "clean"
	StatusStagedOnly    Status = "staged-only"
	StatusSuggestedOnly Status = "suggested-only"
	StatusBoth          Status = "both"
)

// Value is one lane value. A tombstone marks a deletion; Data is ignored.
type Value struct {
	Data      any  `json:"value,omitempty"`
	Tombstone bool `json:"deleted,omitempty"`
}

// State is the edit state of one record.
type State struct {
	Remote    map[string]any   `json:"remote,omitempty"`
	Staged    map[string]Value `json:"staged,omitempty"`
	Suggested map[string]Value `json:"suggested,omitempty"`
}

// NewState returns a clean state whose remote lane is content.
func NewState(content map[string]any) State {
	s := State{Remote: copyMap(content)}
	return s
}

// Stage records a local edit of field.
func (s *State) Stage(field string, v any) {
	if field == RecordKey {
		s.StageRecordDelete()
		return
	}
	s.set(&s.Staged, field, Value{Data: normalize(v)})
}

// StageFieldDelete stages removal of field.
func (s *State) StageFieldDelete(field string) {
	s.set(&s.Staged, field, Value{Tombstone: true})
}

// StageRecordDelete stages deletion of the whole record.
func (s *State) StageRecordDelete() {
	s.set(&s.Staged, RecordKey, Value{Tombstone: true})
}

// Unstage drops any staged value for field.
func (s *State) Unstage(field string) {
	delete(s.Staged, field)
}

// Suggest records a proposed value for field.
func (s *State) Suggest(field string, v any) {
	s.set(&s.Suggested, field, Value{Data: normalize(v)})
}

// SuggestFieldDelete proposes removal of field.
func (s *State) SuggestFieldDelete(field string) {
	s.set(&s.Suggested, field, Value{Tombstone: true})
}

// SuggestRecordDelete proposes deletion of the whole record.
func (s *State) SuggestRecordDelete() {
	s.set(&s.Suggested, RecordKey, Value{Tombstone: true})
}

// Accept promotes the suggestion for field into the staged lane.
func (s *State) Accept(field string) error {
	v, ok := s.Suggested[field]
	if !ok {
		return fmt.Errorf("accept %q: %w", field, ErrNoSuggestion)
	}
	delete(s.Suggested, field)
	s.set(&s.Staged, field, v)
	return nil
}

// Reject discards the suggestion for field.
func (s *State) Reject(field string) error {
	if _, ok := s.Suggested[field]; !ok {
		return fmt.Errorf("reject %q: %w", field, ErrNoSuggestion)
	}
	delete(s.Suggested, field)
	return nil
}

// AcceptAll promotes every suggestion and returns the accepted fields.
func (s *State) AcceptAll() []string {
	fields := sortedKeys(s.Suggested)
	for _, f := range fields {
		_ = s.Accept(f)
	}
	return fields
}

// RejectAll discards every suggestion and returns the rejected fields.
func (s *State) RejectAll() []string {
	fields := sortedKeys(s.Suggested)
	s.Suggested = nil
	return fields
}

// MarkPublished advances the remote lane after field was published with
// data. The staged value is cleared only if it still matches what was
// published, so an edit staged while the publish was in flight survives.
func (s *State) MarkPublished(field string, data any, tombstone bool) {
	published := Value{Data: normalize(data), Tombstone: tombstone}
	if staged, ok := s.Staged[field]; ok && valueEqual(staged, published) {
		delete(s.Staged, field)
	}
	if field != RecordKey {
		if s.Remote == nil {
			s.Remote = make(map[string]any)
		}
		if tombstone {
			delete(s.Remote, field)
		} else {
			s.Remote[field] = published.Data
		}
	}
	s.compact()
}

// SetRemote replaces the remote lane, as after a sync pass.
func (s *State) SetRemote(content map[string]any) {
	s.Remote = copyMap(content)
	s.compact()
}

// Display returns the current value of every field: staged over remote,
// with staged field deletions removed.
func (s State) Display() map[string]any {
	out := copyMap(s.Remote)
	if out == nil {
		out = make(map[string]any)
	}
	for field, v := range s.Staged {
		if field == RecordKey {
			continue
		}
		if v.Tombstone {
			delete(out, field)
			continue
		}
		out[field] = deepCopy(v.Data)
	}
	return out
}

// FieldStatus classifies the lanes of field.
func (s State) FieldStatus(field string) Status {
	_, staged := s.Staged[field]
	_, suggested := s.Suggested[field]
	switch {
	case staged && suggested:
		return StatusBoth
	case staged:
		return StatusStagedOnly
	case suggested:
		return StatusSuggestedOnly
	default:
		return StatusClean
	}
}

// Dirty reports whether anything is staged.
func (s State) Dirty() bool { return len(s.Staged) > 0 }

// Clean reports whether no lane other than remote holds a value.
func (s State) Clean() bool { return len(s.Staged) == 0 && len(s.Suggested) == 0 }

// IsDeleted reports whether a record deletion is staged.
func (s State) IsDeleted() bool {
	v, ok := s.Staged[RecordKey]
	return ok && v.Tombstone
}

// StagedFields lists staged field names, excluding RecordKey, sorted.
func (s State) StagedFields() []string {
	var out []string
	for _, f := range sortedKeys(s.Staged) {
		if f != RecordKey {
			out = append(out, f)
		}
	}
	return out
}

// SuggestedFields lists fields with a suggestion, sorted.
func (s State) SuggestedFields() []string { return sortedKeys(s.Suggested) }

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{Remote: copyMap(s.Remote)}
	if s.Staged != nil {
		out.Staged = make(map[string]Value, len(s.Staged))
		for k, v := range s.Staged {
			out.Staged[k] = Value{Data: deepCopy(v.Data), Tombstone: v.Tombstone}
		}
	}
	if s.Suggested != nil {
		out.Suggested = make(map[string]Value, len(s.Suggested))
		for k, v := range s.Suggested {
			out.Suggested[k] = Value{Data: deepCopy(v.Data), Tombstone: v.Tombstone}
		}
	}
	return out
}

// set writes v into a lane, or removes the lane value when it matches remote.
func (s *State) set(lane *map[string]Value, field string, v Value) {
	if s.matchesRemote(field, v) {
		delete(*lane, field)
		return
	}
	if *lane == nil {
		*lane = make(map[string]Value)
	}
	(*lane)[field] = v
}

func (s *State) matchesRemote(field string, v Value) bool {
	if field == RecordKey {
		return !v.Tombstone
	}
	remote, ok := s.Remote[field]
	if v.Tombstone {
		return !ok
	}
	return ok && Equal(remote, v.Data)
}

func (s *State) compact() {
	for f, v := range s.Staged {
		if s.matchesRemote(f, v) {
			delete(s.Staged, f)
		}
	}
	for f, v := range s.Suggested {
		if s.matchesRemote(f, v) {
			delete(s.Suggested, f)
		}
	}
	if len(s.Staged) == 0 {
		s.Staged = nil
	}
	if len(s.Suggested) == 0 {
		s.Suggested = nil
	}
}

func valueEqual(a, b Value) bool {
	if a.Tombstone || b.Tombstone {
		return a.Tombstone == b.Tombstone
	}
	return Equal(a.Data, b.Data)
}

func sortedKeys(m map[string]Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
