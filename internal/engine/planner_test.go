package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
)

func TestPlan_ClassifiesDirtyRecords(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "globex", map[string]any{"name": "Globex"})
	env.create("companies", "initech", map[string]any{"name": "Initech"})
	env.publish(ir.Scope{})

	_, err := env.eng.Stage(env.ctx, testWorkbook, "companies", "globex", "name", "Globex Corp")
	require.NoError(t, err)
	_, err = env.eng.DeleteRecord(env.ctx, testWorkbook, "companies", "initech")
	require.NoError(t, err)
	env.create("companies", "acme", map[string]any{"name": "Acme", "revenue": "$1,200.50"})
	env.create("companies", "scratch", map[string]any{"name": "Scratch"})
	_, err = env.eng.DeleteRecord(env.ctx, testWorkbook, "companies", "scratch")
	require.NoError(t, err)

	plan := env.plan(ir.Scope{})

	assert.Equal(t, []string{
		"crm/companies/globex#edit",
		"crm/companies/acme#create",
		"crm/companies/initech#delete",
	}, entryKeys(plan.Entries))
	assert.Equal(t, []ir.Phase{ir.PhaseEdit, ir.PhaseCreate, ir.PhaseDelete}, plan.Pipeline.Phases)
	assert.Equal(t, ir.PipelinePlanned, plan.Pipeline.Status)
	assert.Equal(t, []string{"companies", "people"}, plan.Pipeline.FolderIDs)

	edit := plan.Entries[0].Operation
	assert.Equal(t, ir.OpUpdate, edit.Kind)
	assert.Equal(t, env.recordID("crm/companies", "globex"), edit.RecordID)
	assert.Equal(t, map[string]any{"title": "Globex Corp"}, edit.Fields, "an edit carries only staged fields")

	create := plan.Entries[1].Operation
	assert.Equal(t, ir.OpCreate, create.Kind)
	assert.Equal(t, "companies", create.Collection)
	assert.Equal(t, map[string]any{"title": "Acme", "revenue": 1200.5}, create.Fields)

	del := plan.Entries[2].Operation
	assert.Equal(t, ir.OpDelete, del.Kind)
	assert.Equal(t, env.recordID("crm/companies", "initech"), del.RecordID)

	for i, e := range plan.Entries {
		assert.Equal(t, plan.Pipeline.ID, e.PipelineID)
		assert.Equal(t, ir.EntryPending, e.Status)
		assert.NotEmpty(t, e.ID, "entry %d", i)
	}
}

func TestPlan_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})
	env.create("people", "bob", map[string]any{"name": "Bob", "company": "acme"})

	first := env.plan(ir.Scope{})
	second := env.plan(ir.Scope{})

	assert.NotEqual(t, first.Pipeline.ID, second.Pipeline.ID)
	assert.Equal(t, entryKeys(first.Entries), entryKeys(second.Entries))
	for i := range first.Entries {
		assert.Equal(t, first.Entries[i].Operation, second.Entries[i].Operation)
	}

	stored := env.entries(first.Pipeline.ID)
	assert.Equal(t, entryKeys(first.Entries), entryKeys(stored))
}

func TestPlan_NothingDirty(t *testing.T) {
	env := newTestEnv(t)

	plan := env.plan(ir.Scope{})

	assert.Empty(t, plan.Entries)
	assert.Empty(t, plan.Pipeline.Phases)
	assert.NotNil(t, plan.Pipeline.Phases)
}

func TestPlan_SamePlanReferenceIsBackfilled(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})
	env.create("people", "bob", map[string]any{"name": "Bob", "company": "acme"})

	plan := env.plan(ir.Scope{})

	require.Equal(t, []string{
		"crm/companies/acme#create",
		"crm/people/bob#create",
		"crm/people/bob#backfill",
	}, entryKeys(plan.Entries))

	bob := plan.Entries[1].Operation
	assert.Contains(t, bob.Fields, "company_id")
	assert.Nil(t, bob.Fields["company_id"], "an unresolved reference is sent as null")
	require.Len(t, bob.Refs, 1)
	assert.True(t, bob.Refs[0].Deferred)
	assert.Equal(t, "crm/companies", bob.Refs[0].TargetFolderPath)
	assert.Equal(t, "acme", bob.Refs[0].TargetFileName)

	backfill := plan.Entries[2].Operation
	assert.Equal(t, ir.OpUpdate, backfill.Kind)
	assert.Empty(t, backfill.Fields)
	require.Len(t, backfill.Refs, 1)
	assert.Equal(t, "company_id", backfill.Refs[0].DestinationField)
}

func TestPlan_ResolvedReferenceNeedsNoBackfill(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})
	env.publish(ir.Scope{})
	env.create("people", "bob", map[string]any{"name": "Bob", "company": "acme"})

	plan := env.plan(ir.Scope{})

	require.Equal(t, []string{"crm/people/bob#create"}, entryKeys(plan.Entries))
	op := plan.Entries[0].Operation
	assert.Equal(t, env.recordID("crm/companies", "acme"), op.Fields["company_id"])
	require.Len(t, op.Refs, 1)
	assert.False(t, op.Refs[0].Deferred)
}

func TestPlan_FieldErrorKeepsOtherFields(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme", "revenue": "lots"})

	plan := env.plan(ir.Scope{})

	require.Len(t, plan.Entries, 1)
	op := plan.Entries[0].Operation
	assert.Equal(t, map[string]any{"title": "Acme"}, op.Fields)
	require.Len(t, op.FieldErrors, 1)
	assert.Equal(t, "revenue", op.FieldErrors[0].SourceField)
	assert.NotContains(t, op.Published, "revenue")
	assert.Contains(t, op.Published, "name")
}

func TestPlan_TransformerWarningIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.create("people", "bob", map[string]any{"name": "Bob", "company": "ghost"})

	plan := env.plan(ir.Scope{FolderIDs: []string{"people"}})

	require.Len(t, plan.Entries, 1)
	op := plan.Entries[0].Operation
	assert.Empty(t, op.FieldErrors)
	require.Len(t, op.Warnings, 1)
	assert.Contains(t, op.Warnings[0], "company: ")
	assert.Nil(t, op.Fields["company_id"])
	require.Len(t, op.Refs, 1)
	assert.True(t, op.Refs[0].Deferred)
}

func TestPlan_Scope(t *testing.T) {
	tests := []struct {
		name  string
		scope ir.Scope
		want  []string
	}{
		{
			name:  "everything",
			scope: ir.Scope{},
			want:  []string{"crm/companies/acme#create", "crm/companies/globex#create", "crm/people/ann#create"},
		},
		{
			name:  "folder ids",
			scope: ir.Scope{FolderIDs: []string{"people"}},
			want:  []string{"crm/people/ann#create"},
		},
		{
			name:  "path prefix",
			scope: ir.Scope{PathPrefix: "crm/companies"},
			want:  []string{"crm/companies/acme#create", "crm/companies/globex#create"},
		},
		{
			name:  "where",
			scope: ir.Scope{Where: `record.name == "Acme"`},
			want:  []string{"crm/companies/acme#create"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.create("companies", "acme", map[string]any{"name": "Acme"})
			env.create("companies", "globex", map[string]any{"name": "Globex"})
			env.create("people", "ann", map[string]any{"name": "Ann"})

			plan := env.plan(tt.scope)

			assert.Equal(t, tt.want, entryKeys(plan.Entries))
		})
	}
}

func TestPlan_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
		scope ir.Scope
		code  RuntimeErrorCode
	}{
		{
			name:  "unknown folder in scope",
			scope: ir.Scope{FolderIDs: []string{"nope"}},
			code:  ErrCodeFolderNotFound,
		},
		{
			name:  "bad where expression",
			scope: ir.Scope{Where: "record.name =="},
			code:  ErrCodeInvalidScope,
		},
		{
			name: "invalid mapping",
			setup: func(env *testEnv) {
				f := companiesFolder()
				f.FieldMap = mapping.New(mapping.Entry{Source: "name", Destination: "missing"})
				require.NoError(env.t, env.store.PutFolder(env.ctx, f))
			},
			code: ErrCodeInvalidMapping,
		},
		{
			name: "inconsistent folder path",
			setup: func(env *testEnv) {
				f := peopleFolder()
				f.Path = "elsewhere/people"
				require.NoError(env.t, env.store.PutFolder(env.ctx, f))
			},
			code: ErrCodeFolderCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.create("companies", "acme", map[string]any{"name": "Acme"})
			if tt.setup != nil {
				tt.setup(env)
			}

			_, err := env.eng.PlanPublish(env.ctx, testWorkbook, tt.scope, "")

			require.Error(t, err)
			code, ok := CodeOf(err)
			require.True(t, ok, "expected a runtime error, got %v", err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestPlan_BackfillWhereErrorIsInvalidScope(t *testing.T) {
	env := newTestEnv(t)
	env.create("companies", "acme", map[string]any{"name": "Acme"})
	env.create("people", "bob", map[string]any{"name": "Bob", "company": "acme"})
	env.publish(ir.Scope{FolderIDs: []string{"people"}})
	env.publish(ir.Scope{FolderIDs: []string{"companies"}})

	backfill := env.plan(ir.Scope{FolderIDs: []string{"people"}})
	require.Equal(t, []string{"crm/people/bob#backfill"}, entryKeys(backfill.Entries), "bob's deferred reference is a backfill candidate")

	_, err := env.eng.PlanPublish(env.ctx, testWorkbook, ir.Scope{Where: "record.company > 1"}, "")

	code, ok := CodeOf(err)
	require.True(t, ok, "expected a runtime error, got %v", err)
	assert.Equal(t, ErrCodeInvalidScope, code)
}
