package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/schema"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrRecordNotFound    = errors.New("record not found")
)

// FailureRule makes matching operations fail. Empty fields match anything.
// Times bounds how often the rule fires; zero means always.
type FailureRule struct {
	Collection string
	Kind       ir.OperationKind
	RecordID   string
	// Match requires these destination field values in the payload.
	Match     map[string]any
	Retryable bool
	Message   string
	Times     int

	fired int
}

func (r *FailureRule) matches(op ir.Operation) bool {
	if r.Times > 0 && r.fired >= r.Times {
		return false
	}
	if r.Collection != "" && r.Collection != op.Collection {
		return false
	}
	if r.Kind != "" && r.Kind != op.Kind {
		return false
	}
	if r.RecordID != "" && r.RecordID != op.RecordID {
		return false
	}
	for k, want := range r.Match {
		got, ok := op.Fields[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

type memoryCollection struct {
	Schema  *schema.Node              `json:"schema,omitempty"`
	Records map[string]map[string]any `json:"records"`
}

type memoryState struct {
	NextID      int                          `json:"next_id"`
	Collections map[string]*memoryCollection `json:"collections"`
}

// Memory is an in-process record store.
type Memory struct {
	mu       sync.Mutex
	name     string
	path     string
	state    memoryState
	failures []*FailureRule
	applied  []ir.Operation
}

// NewMemory returns an empty store. Record ids are name-prefixed.
func NewMemory(name string) *Memory {
	return &Memory{
		name:  name,
		state: memoryState{NextID: 1, Collections: make(map[string]*memoryCollection)},
	}
}

// OpenMemory loads a store persisted at path, or starts empty when the file
// does not exist. Every successful Apply rewrites the file.
func OpenMemory(name, path string) (*Memory, error) {
	m := NewMemory(name)
	m.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open memory connector %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &m.state); err != nil {
		return nil, fmt.Errorf("open memory connector %s: %w", name, err)
	}
	if m.state.Collections == nil {
		m.state.Collections = make(map[string]*memoryCollection)
	}
	if m.state.NextID < 1 {
		m.state.NextID = 1
	}
	return m, nil
}

// DefineCollection registers a collection with its schema.
func (m *Memory) DefineCollection(name string, s *schema.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(name)
	c.Schema = s
}

// Seed stores a record as-is, as if created remotely.
func (m *Memory) Seed(collection, id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection).Records[id] = cloneFields(fields)
}

// Remove deletes a record as if deleted remotely.
func (m *Memory) Remove(collection, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.state.Collections[collection]; ok {
		delete(c.Records, id)
	}
}

// Get returns a copy of a stored record.
func (m *Memory) Get(collection, id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.Collections[collection]
	if !ok {
		return nil, false
	}
	rec, ok := c.Records[id]
	if !ok {
		return nil, false
	}
	return cloneFields(rec), true
}

// InjectFailure adds a failure rule. Rules are checked in order.
func (m *Memory) InjectFailure(rule FailureRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rule
	m.failures = append(m.failures, &r)
}

// ClearFailures removes every failure rule.
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = nil
}

// Applied returns the operations applied successfully, in order.
func (m *Memory) Applied() []ir.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ir.Operation, len(m.applied))
	copy(out, m.applied)
	return out
}

func (m *Memory) FetchSchema(_ context.Context, collection string) (*schema.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.Collections[collection]
	if !ok || c.Schema == nil {
		return nil, fmt.Errorf("schema %q: %w", collection, ErrUnknownCollection)
	}
	return c.Schema, nil
}

// ListRecords returns the records of a collection ordered by id.
func (m *Memory) ListRecords(_ context.Context, collection string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.Collections[collection]
	if !ok {
		return nil, fmt.Errorf("list %q: %w", collection, ErrUnknownCollection)
	}
	ids := make([]string, 0, len(c.Records))
	for id := range c.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, Record{ID: id, Fields: cloneFields(c.Records[id])})
	}
	return out, nil
}

// Apply executes op. Deleting an absent record succeeds, so a retried
// delete is harmless.
func (m *Memory) Apply(ctx context.Context, op ir.Operation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &ApplyError{Kind: op.Kind, RecordID: op.RecordID, Retryable: true, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.failures {
		if r.matches(op) {
			r.fired++
			msg := r.Message
			if msg == "" {
				msg = "rejected by remote"
			}
			return Result{}, &ApplyError{Kind: op.Kind, RecordID: op.RecordID, Retryable: r.Retryable, Err: errors.New(msg)}
		}
	}

	c, ok := m.state.Collections[op.Collection]
	if !ok {
		return Result{}, &ApplyError{Kind: op.Kind, RecordID: op.RecordID, Err: fmt.Errorf("%q: %w", op.Collection, ErrUnknownCollection)}
	}

	var res Result
	switch op.Kind {
	case ir.OpCreate:
		id := fmt.Sprintf("%s_%04d", m.name, m.state.NextID)
		m.state.NextID++
		c.Records[id] = cloneFields(op.Fields)
		res.RecordID = id
	case ir.OpUpdate:
		rec, ok := c.Records[op.RecordID]
		if !ok {
			return Result{}, &ApplyError{Kind: op.Kind, RecordID: op.RecordID, Err: ErrRecordNotFound}
		}
		mergeFields(rec, cloneFields(op.Fields))
		res.RecordID = op.RecordID
	case ir.OpDelete:
		delete(c.Records, op.RecordID)
		res.RecordID = op.RecordID
	default:
		return Result{}, &ApplyError{Kind: op.Kind, RecordID: op.RecordID, Err: fmt.Errorf("unsupported operation %q", op.Kind)}
	}

	if err := m.persist(); err != nil {
		return Result{}, &ApplyError{Kind: op.Kind, RecordID: op.RecordID, Retryable: true, Err: err}
	}
	m.applied = append(m.applied, op)
	return res, nil
}

// Save writes the store to its file, if it has one.
func (m *Memory) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist()
}

func (m *Memory) persist() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("persist memory connector: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist memory connector: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("persist memory connector: %w", err)
	}
	return nil
}

func (m *Memory) collection(name string) *memoryCollection {
	c, ok := m.state.Collections[name]
	if !ok {
		c = &memoryCollection{Records: make(map[string]map[string]any)}
		m.state.Collections[name] = c
	}
	return c
}

// mergeFields overlays src onto dst, descending into nested objects.
func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeFields(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
