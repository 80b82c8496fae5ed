package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
)

func TestCreateFile(t *testing.T) {
	env := newTestEnv(t)

	f, err := env.eng.CreateFile(env.ctx, testWorkbook, "companies", "acme", map[string]any{"name": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "companies", f.FolderID)
	assert.Equal(t, []string{"name"}, f.State.StagedFields())

	_, err = env.eng.CreateFile(env.ctx, testWorkbook, "companies", "acme", map[string]any{"name": "Again"})
	assert.Error(t, err)

	_, err = env.eng.CreateFile(env.ctx, testWorkbook, "companies", "bad", map[string]any{"__dirty": true})
	code, _ := CodeOf(err)
	assert.Equal(t, ErrCodeReservedField, code)

	_, err = env.eng.CreateFile(env.ctx, "other", "companies", "x", map[string]any{})
	assert.True(t, IsNotFoundError(err), "folders are scoped to their workbook")
}

func TestStage_RejectsReservedNames(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"reserved field", "__metadata", "x"},
		{"reserved nested key", "address", map[string]any{"__seen": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.Stage(env.ctx, testWorkbook, "companies", "acme", tt.field, tt.value)
			code, _ := CodeOf(err)
			assert.Equal(t, ErrCodeReservedField, code)
		})
	}
}

func TestEditOperations_UnknownFile(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.Stage(env.ctx, testWorkbook, "companies", "ghost", "name", "x")
	code, _ := CodeOf(err)
	assert.Equal(t, ErrCodeRecordNotFound, code)

	_, err = env.eng.GetFile(env.ctx, testWorkbook, "companies", "ghost")
	code, _ = CodeOf(err)
	assert.Equal(t, ErrCodeRecordNotFound, code)
}

func TestSuggestions(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})
	env.publish(ir.Scope{})

	st, err := env.eng.Suggest(env.ctx, testWorkbook, "companies", "acme", "name", "ACME Corp", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, st.SuggestedFields())
	assert.False(t, st.Dirty(), "a suggestion alone publishes nothing")
	assert.Empty(t, env.plan(ir.Scope{}).Entries)

	st, err = env.eng.Accept(env.ctx, testWorkbook, "companies", "acme", "name")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, st.StagedFields())
	assert.Empty(t, st.SuggestedFields())

	_, err = env.eng.Suggest(env.ctx, testWorkbook, "companies", "acme", "revenue", nil, true)
	require.NoError(t, err)
	st, err = env.eng.Reject(env.ctx, testWorkbook, "companies", "acme", "")
	require.NoError(t, err)
	assert.Empty(t, st.SuggestedFields())

	_, err = env.eng.Accept(env.ctx, testWorkbook, "companies", "acme", "revenue")
	assert.Error(t, err, "accepting a field without a suggestion fails")
}

func TestSuggestRecordDelete(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})
	env.publish(ir.Scope{})

	_, err := env.eng.Suggest(env.ctx, testWorkbook, "companies", "acme", merge.RecordKey, nil, true)
	require.NoError(t, err)
	st, err := env.eng.Accept(env.ctx, testWorkbook, "companies", "acme", "")
	require.NoError(t, err)
	assert.True(t, st.IsDeleted())

	plan := env.plan(ir.Scope{})
	assert.Equal(t, []string{"crm/companies/acme#delete"}, entryKeys(plan.Entries))
}

func TestUnstageAndFieldDelete(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme", "revenue": "$10"})
	env.publish(ir.Scope{})

	_, err := env.eng.Stage(env.ctx, testWorkbook, "companies", "acme", "name", "Acme 2")
	require.NoError(t, err)
	st, err := env.eng.Unstage(env.ctx, testWorkbook, "companies", "acme", "name")
	require.NoError(t, err)
	assert.False(t, st.Dirty())

	_, err = env.eng.StageFieldDelete(env.ctx, testWorkbook, "companies", "acme", "revenue")
	require.NoError(t, err)
	plan, done := env.publish(ir.Scope{})
	require.Equal(t, ir.PipelineCompleted, done.Status)
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, map[string]any{"revenue": nil}, plan.Entries[0].Operation.Fields)

	f := env.file("companies", "acme")
	assert.True(t, f.State.Clean())
	assert.NotContains(t, f.State.Remote, "revenue")
}

func TestEnvelope(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})

	before, err := env.eng.Envelope(env.ctx, testWorkbook, "companies", "acme")
	require.NoError(t, err)
	meta := before[ir.FieldMetadata].(map[string]any)
	assert.True(t, strings.HasPrefix(meta["id"].(string), "new_"))
	assert.Equal(t, true, before[ir.FieldCreated])
	assert.Equal(t, true, before[ir.FieldDirty])
	assert.Equal(t, "Acme", before["name"])

	env.publish(ir.Scope{})
	after, err := env.eng.Envelope(env.ctx, testWorkbook, "companies", "acme")
	require.NoError(t, err)
	meta = after[ir.FieldMetadata].(map[string]any)
	assert.Equal(t, env.recordID("crm/companies", "acme"), meta["id"])
	assert.Equal(t, false, after[ir.FieldCreated])
	assert.Equal(t, false, after[ir.FieldDirty])

	_, err = env.eng.DeleteRecord(env.ctx, testWorkbook, "companies", "acme")
	require.NoError(t, err)
	deleted, err := env.eng.Envelope(env.ctx, testWorkbook, "companies", "acme")
	require.NoError(t, err)
	meta = deleted[ir.FieldMetadata].(map[string]any)
	assert.True(t, strings.HasPrefix(meta["id"].(string), "del_"))
	assert.Equal(t, true, deleted[ir.FieldDeleted])
}

func TestDeleteRecord_DiscardsUnpublished(t *testing.T) {
	tests := []struct {
		name   string
		delete func(env *testEnv)
	}{
		{
			name: "delete",
			delete: func(env *testEnv) {
				_, err := env.eng.DeleteRecord(env.ctx, testWorkbook, "companies", "draft")
				require.NoError(env.t, err)
			},
		},
		{
			name: "accepted delete suggestion",
			delete: func(env *testEnv) {
				_, err := env.eng.Suggest(env.ctx, testWorkbook, "companies", "draft", merge.RecordKey, nil, false)
				require.NoError(env.t, err)
				_, err = env.eng.Accept(env.ctx, testWorkbook, "companies", "draft", "")
				require.NoError(env.t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.create("companies", "draft", map[string]any{"name": "Draft"})

			tt.delete(env)

			_, err := env.eng.GetFile(env.ctx, testWorkbook, "companies", "draft")
			assert.True(t, IsNotFoundError(err), "an unpublished delete leaves no file: %v", err)
			assert.Empty(t, env.plan(ir.Scope{}).Entries)
			env.create("companies", "draft", map[string]any{"name": "Draft again"})
		})
	}
}

func TestDeleteRecord_KeepsTombstoneWhileFolderBusy(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "draft", map[string]any{"name": "Draft"})
	require.NoError(t, env.eng.locks.TryAcquire("pull-x", "companies"))

	st, err := env.eng.DeleteRecord(env.ctx, testWorkbook, "companies", "draft")
	require.NoError(t, err)
	assert.True(t, st.IsDeleted())
	assert.True(t, env.file("companies", "draft").State.IsDeleted())

	env.eng.locks.Release("pull-x")
	plan := env.plan(ir.Scope{})
	assert.Empty(t, plan.Entries, "the planner skips an unpublished tombstone")
}
