package connector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/schema"
)

func TestMemory_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("crm")
	m.DefineCollection("people", schema.Object(schema.Required("full_name", schema.String())))

	res, err := m.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people", Fields: map[string]any{
		"full_name": "Ada",
		"address":   map[string]any{"city": "London", "zip": "N1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "crm_0001", res.RecordID)

	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpUpdate, Collection: "people", RecordID: "crm_0001", Fields: map[string]any{
		"address": map[string]any{"city": "Paris"},
	}})
	require.NoError(t, err)

	rec, ok := m.Get("people", "crm_0001")
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"full_name": "Ada",
		"address":   map[string]any{"city": "Paris", "zip": "N1"},
	}, rec)

	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpDelete, Collection: "people", RecordID: "crm_0001"})
	require.NoError(t, err)
	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpDelete, Collection: "people", RecordID: "crm_0001"})
	require.NoError(t, err, "deletes are idempotent")

	records, err := m.ListRecords(ctx, "people")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, m.Applied(), 4)
}

func TestMemory_UpdateMissingRecord(t *testing.T) {
	m := NewMemory("crm")
	m.DefineCollection("people", schema.Object())

	_, err := m.Apply(context.Background(), ir.Operation{Kind: ir.OpUpdate, Collection: "people", RecordID: "nope"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.False(t, IsRetryable(err))
}

func TestMemory_UnknownCollection(t *testing.T) {
	m := NewMemory("crm")
	_, err := m.Apply(context.Background(), ir.Operation{Kind: ir.OpCreate, Collection: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownCollection)
	_, err = m.FetchSchema(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownCollection)
	_, err = m.ListRecords(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestMemory_FailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("crm")
	m.DefineCollection("people", schema.Object())
	m.InjectFailure(FailureRule{Collection: "people", Kind: ir.OpCreate, Match: map[string]any{"name": "Bad"}, Retryable: true, Times: 1})

	_, err := m.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people", Fields: map[string]any{"name": "Bad"}})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "rejected by remote")

	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people", Fields: map[string]any{"name": "Good"}})
	require.NoError(t, err)

	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people", Fields: map[string]any{"name": "Bad"}})
	require.NoError(t, err, "rule exhausted after one firing")

	m.InjectFailure(FailureRule{Message: "down"})
	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpDelete, Collection: "people", RecordID: "x"})
	assert.EqualError(t, err, "delete x: down")
	m.ClearFailures()
	_, err = m.Apply(ctx, ir.Operation{Kind: ir.OpDelete, Collection: "people", RecordID: "x"})
	assert.NoError(t, err)
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory("crm")
	m.DefineCollection("people", schema.Object())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsRetryable(err))
}

func TestMemory_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "remote.json")

	m, err := OpenMemory("crm", path)
	require.NoError(t, err)
	m.DefineCollection("people", schema.Object(schema.Required("full_name", schema.String())))
	res, err := m.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people", Fields: map[string]any{"full_name": "Ada"}})
	require.NoError(t, err)

	reopened, err := OpenMemory("crm", path)
	require.NoError(t, err)
	rec, ok := reopened.Get("people", res.RecordID)
	require.True(t, ok)
	assert.Equal(t, "Ada", rec["full_name"])

	s, err := reopened.FetchSchema(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, schema.KindObject, s.Kind)

	next, err := reopened.Apply(ctx, ir.Operation{Kind: ir.OpCreate, Collection: "people"})
	require.NoError(t, err)
	assert.Equal(t, "crm_0002", next.RecordID)
}

func TestMemory_SeedAndRemove(t *testing.T) {
	m := NewMemory("crm")
	m.Seed("people", "r2", map[string]any{"n": 2})
	m.Seed("people", "r1", map[string]any{"n": 1})

	records, err := m.ListRecords(context.Background(), "people")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, float64(1), records[0].Fields["n"])

	m.Remove("people", "r1")
	records, err = m.ListRecords(context.Background(), "people")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := NewMemory("crm")
	r.Register("crm", m)
	r.Register("erp", NewMemory("erp"))

	got, err := r.Get("crm")
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.Get("ghost")
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.Equal(t, []string{"crm", "erp"}, r.Accounts())
}
