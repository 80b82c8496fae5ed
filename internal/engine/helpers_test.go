package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/store"
	"github.com/roach88/syncbook/internal/transform"
)

const testWorkbook = "wb1"

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second on every reading so timestamps are
// strictly ordered.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// seqIDs yields id-001, id-002, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

type testEnv struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	mem   *connector.Memory
	eng   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := connector.NewMemory("mem")
	mem.DefineCollection("companies", nil)
	mem.DefineCollection("people", nil)
	env := newTestEnvWith(t, mem)
	env.mem = mem
	return env
}

func newTestEnvWith(t *testing.T, conn connector.Connector) *testEnv {
	t.Helper()
	clock := &stepClock{now: testEpoch}

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := connector.NewRegistry()
	reg.Register("memory", conn)

	env := &testEnv{
		t:     t,
		ctx:   context.Background(),
		store: s,
		eng:   New(s, reg, WithClock(clock), WithIDGenerator(&seqIDs{})),
	}
	env.putFolders()
	return env
}

func companiesFolder() ir.DataFolder {
	return ir.DataFolder{
		ID:               "companies",
		WorkbookID:       testWorkbook,
		Name:             "companies",
		ParentID:         "crm",
		Path:             "crm/companies",
		ConnectorAccount: "memory",
		RemoteCollection: "companies",
		SourceSchema: schema.Object(
			schema.Required("name", schema.String()),
			schema.Optional("revenue", schema.String()),
		),
		DestSchema: schema.Object(
			schema.Required("title", schema.String()),
			schema.Optional("revenue", schema.Number()),
		),
		FieldMap: mapping.New(
			mapping.Entry{Source: "name", Destination: "title"},
			mapping.Entry{Source: "revenue", Destination: "revenue", Transformer: transform.StringToNumber{StripCurrency: true}},
		),
	}
}

func peopleFolder() ir.DataFolder {
	return ir.DataFolder{
		ID:               "people",
		WorkbookID:       testWorkbook,
		Name:             "people",
		ParentID:         "crm",
		Path:             "crm/people",
		ConnectorAccount: "memory",
		RemoteCollection: "people",
		SourceSchema: schema.Object(
			schema.Required("name", schema.String()),
			schema.Optional("company", schema.String()),
		),
		DestSchema: schema.Object(
			schema.Required("full_name", schema.String()),
			schema.Optional("company_id", schema.String()),
		),
		FieldMap: mapping.New(
			mapping.Entry{Source: "name", Destination: "full_name"},
			mapping.Entry{Source: "company", Destination: "company_id", Transformer: transform.SourceFKToDestFK{ReferencedFolderID: "companies"}},
		),
	}
}

// putFolders writes the crm tree: an unbound root with companies and
// people below it.
func (env *testEnv) putFolders() {
	env.t.Helper()
	folders := []ir.DataFolder{
		{ID: "crm", WorkbookID: testWorkbook, Name: "crm", Path: "crm"},
		companiesFolder(),
		peopleFolder(),
	}
	for _, f := range folders {
		require.NoError(env.t, env.store.PutFolder(env.ctx, f))
	}
}

func (env *testEnv) create(folderID, filename string, content map[string]any) {
	env.t.Helper()
	_, err := env.eng.CreateFile(env.ctx, testWorkbook, folderID, filename, content)
	require.NoError(env.t, err)
}

func (env *testEnv) plan(scope ir.Scope) Plan {
	env.t.Helper()
	p, err := env.eng.PlanPublish(env.ctx, testWorkbook, scope, "")
	require.NoError(env.t, err)
	return p
}

// publish plans everything in scope and runs it to completion.
func (env *testEnv) publish(scope ir.Scope) (Plan, ir.PublishPipeline) {
	env.t.Helper()
	p := env.plan(scope)
	done, err := env.eng.RunPublishSync(env.ctx, testWorkbook, p.Pipeline.ID)
	require.NoError(env.t, err)
	return p, done
}

func (env *testEnv) entries(pipelineID string) []ir.PipelineEntry {
	env.t.Helper()
	entries, err := env.eng.ListPipelineEntries(env.ctx, testWorkbook, pipelineID)
	require.NoError(env.t, err)
	return entries
}

func (env *testEnv) recordID(folderPath, filename string) string {
	env.t.Helper()
	id, ok, err := env.store.RecordIDFor(env.ctx, testWorkbook, folderPath, filename)
	require.NoError(env.t, err)
	require.True(env.t, ok, "%s/%s should be indexed", folderPath, filename)
	return id
}

func (env *testEnv) file(folderID, filename string) ir.LocalFile {
	env.t.Helper()
	f, err := env.eng.GetFile(env.ctx, testWorkbook, folderID, filename)
	require.NoError(env.t, err)
	return f
}

// entryKeys renders entries as "path#phase" in their stored order.
func entryKeys(entries []ir.PipelineEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.FilePath + "#" + e.Phase.String()
	}
	return out
}

// mockConnector is a testify mock for the connector contract.
type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) FetchSchema(ctx context.Context, collection string) (*schema.Node, error) {
	args := m.Called(ctx, collection)
	n, _ := args.Get(0).(*schema.Node)
	return n, args.Error(1)
}

func (m *mockConnector) ListRecords(ctx context.Context, collection string) ([]connector.Record, error) {
	args := m.Called(ctx, collection)
	recs, _ := args.Get(0).([]connector.Record)
	return recs, args.Error(1)
}

func (m *mockConnector) Apply(ctx context.Context, op ir.Operation) (connector.Result, error) {
	args := m.Called(ctx, op)
	return args.Get(0).(connector.Result), args.Error(1)
}

func opTitled(title string) any {
	return mock.MatchedBy(func(op ir.Operation) bool { return op.Fields["title"] == title })
}
