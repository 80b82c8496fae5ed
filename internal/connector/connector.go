// Package connector defines the capability boundary to external record
// stores: fetch a collection schema, list its records, apply one operation.
//
// The wire protocol of any particular store lives behind Connector. Memory
// is an in-process implementation with optional JSON persistence and
// failure injection, used for local workbooks and tests.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/schema"
)

// ErrUnknownAccount is returned by Registry.Get for unregistered accounts.
var ErrUnknownAccount = errors.New("unknown connector account")

// Record is one remote record.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Result is the outcome of a successful Apply.
type Result struct {
	RecordID string `json:"record_id"`
}

// Connector is the capability surface of one external record store.
type Connector interface {
	FetchSchema(ctx context.Context, collection string) (*schema.Node, error)
	ListRecords(ctx context.Context, collection string) ([]Record, error)
	Apply(ctx context.Context, op ir.Operation) (Result, error)
}

// ApplyError is a rejected operation.
type ApplyError struct {
	Kind      ir.OperationKind
	RecordID  string
	Retryable bool
	Err       error
}

func (e *ApplyError) Error() string {
	target := e.RecordID
	if target == "" {
		target = "new record"
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, target, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is an ApplyError marked retryable.
func IsRetryable(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae) && ae.Retryable
}

// Registry maps connector account names to connectors.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]Connector)}
}

// Register binds account to c, replacing any previous binding.
func (r *Registry) Register(account string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account] = c
}

// Get returns the connector bound to account.
func (r *Registry) Get(account string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%q: %w", account, ErrUnknownAccount)
	}
	return c, nil
}

// Accounts lists registered account names, sorted.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.accounts))
	for a := range r.accounts {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
