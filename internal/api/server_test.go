package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/engine"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/store"
)

const testWorkbook = "wb"

type testServer struct {
	t      *testing.T
	eng    *engine.Engine
	mem    *connector.Memory
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mem := connector.NewMemory("mem")
	mem.DefineCollection("companies", nil)
	reg := connector.NewRegistry()
	reg.Register("memory", mem)

	eng := engine.New(s, reg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	folders := []ir.DataFolder{
		{ID: "crm", WorkbookID: testWorkbook, Name: "crm"},
		{
			ID:               "companies",
			WorkbookID:       testWorkbook,
			Name:             "companies",
			ParentID:         "crm",
			ConnectorAccount: "memory",
			RemoteCollection: "companies",
			SourceSchema:     schema.Object(schema.Required("name", schema.String())),
			DestSchema:       schema.Object(schema.Required("title", schema.String())),
			FieldMap:         mapping.New(mapping.Entry{Source: "name", Destination: "title"}),
		},
	}
	for _, f := range folders {
		_, err := eng.SaveFolder(context.Background(), f)
		require.NoError(t, err)
	}

	return &testServer{t: t, eng: eng, mem: mem, router: NewServer(eng, testWorkbook).Router()}
}

// do sends a request and decodes the JSON response into out when out is
// non-nil.
func (ts *testServer) do(method, path string, body any, out any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	w := ts.do(http.MethodGet, "/healthz", nil, &body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestPublishRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/folders/companies/files",
		map[string]any{"filename": "acme", "content": map[string]any{"name": "Acme"}}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var plan engine.Plan
	w = ts.do(http.MethodPost, "/api/v1/pipelines", map[string]any{"scope": map[string]any{"folder_ids": []string{"companies"}}}, &plan)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, ir.OpCreate, plan.Entries[0].Operation.Kind)

	w = ts.do(http.MethodPost, "/api/v1/pipelines/"+plan.Pipeline.ID+"/run", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := ts.eng.Wait(ctx, testWorkbook, plan.Pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.PipelineCompleted, done.Status)

	var got ir.PublishPipeline
	w = ts.do(http.MethodGet, "/api/v1/pipelines/"+plan.Pipeline.ID, nil, &got)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ir.PipelineCompleted, got.Status)

	var idx struct {
		Files []ir.FileIndexEntry `json:"files"`
	}
	ts.do(http.MethodGet, "/api/v1/index/files", nil, &idx)
	require.Len(t, idx.Files, 1)
	assert.Equal(t, "acme", idx.Files[0].Filename)

	var envelope map[string]any
	w = ts.do(http.MethodGet, "/api/v1/folders/companies/files/acme", nil, &envelope)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Acme", envelope["name"])
	assert.Equal(t, false, envelope[ir.FieldCreated])
}

func TestEditEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/v1/folders/companies/files",
		map[string]any{"filename": "acme", "content": map[string]any{"name": "Acme"}}, nil)

	var envelope map[string]any
	w := ts.do(http.MethodPost, "/api/v1/folders/companies/files/acme/suggestions",
		map[string]any{"field": "name", "value": "Acme Inc"}, &envelope)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]any{"name": "Acme Inc"}, envelope[ir.FieldSuggestedValues])

	w = ts.do(http.MethodPost, "/api/v1/folders/companies/files/acme/accept", nil, &envelope)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Acme Inc", envelope["name"])
	assert.Equal(t, map[string]any{}, envelope[ir.FieldSuggestedValues])

	w = ts.do(http.MethodPatch, "/api/v1/folders/companies/files/acme/fields/name",
		map[string]any{"value": "Acme Corp"}, &envelope)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Acme Corp", envelope["name"])
	assert.Equal(t, true, envelope[ir.FieldDirty])
}

func TestPreviewAndTransformerTrial(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/v1/folders/companies/files",
		map[string]any{"filename": "acme", "content": map[string]any{"name": "Acme", "revenue": "$1,200"}}, nil)

	var preview struct {
		Rows []engine.PreviewRow `json:"rows"`
	}
	w := ts.do(http.MethodPost, "/api/v1/folders/companies/preview", map[string]any{"sample": "acme"}, &preview)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, preview.Rows, 1)
	assert.Equal(t, "title", preview.Rows[0].DestinationField)
	assert.Equal(t, "Acme", preview.Rows[0].TransformedValue)

	var trial engine.TransformerTrial
	w = ts.do(http.MethodPost, "/api/v1/transformers/test", map[string]any{
		"file_path":   "crm/companies/acme",
		"json_path":   "revenue",
		"transformer": map[string]any{"type": "string_to_number", "stripCurrency": true},
	}, &trial)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, trial.Success)
	assert.Equal(t, float64(1200), trial.Value)
}

func TestValidateMapping(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		Valid  bool                   `json:"valid"`
		Errors []mapping.MappingError `json:"errors"`
	}
	w := ts.do(http.MethodPost, "/api/v1/mappings/validate", map[string]any{
		"source_schema": schema.Object(schema.Required("name", schema.String())),
		"dest_schema":   schema.Object(schema.Required("title", schema.Number())),
		"field_map":     map[string]any{"name": "title"},
	}, &body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, body.Valid)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "TYPE_MISMATCH", body.Errors[0].Code)
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "unknown folder",
			method: http.MethodGet,
			path:   "/api/v1/folders/nope/files",
			status: http.StatusNotFound,
			code:   string(engine.ErrCodeFolderNotFound),
		},
		{
			name:   "unknown file",
			method: http.MethodGet,
			path:   "/api/v1/folders/companies/files/ghost",
			status: http.StatusNotFound,
			code:   string(engine.ErrCodeRecordNotFound),
		},
		{
			name:   "unknown pipeline",
			method: http.MethodGet,
			path:   "/api/v1/pipelines/nope",
			status: http.StatusNotFound,
			code:   string(engine.ErrCodePipelineNotFound),
		},
		{
			name:   "bad scope",
			method: http.MethodPost,
			path:   "/api/v1/pipelines",
			body:   map[string]any{"scope": map[string]any{"where": "record.name =="}},
			status: http.StatusBadRequest,
			code:   string(engine.ErrCodeInvalidScope),
		},
		{
			name:   "reserved field",
			method: http.MethodPost,
			path:   "/api/v1/folders/companies/files",
			body:   map[string]any{"filename": "bad", "content": map[string]any{"__dirty": true}},
			status: http.StatusUnprocessableEntity,
			code:   string(engine.ErrCodeReservedField),
		},
		{
			name:   "folder cycle",
			method: http.MethodPost,
			path:   "/api/v1/folders/crm/move",
			body:   map[string]any{"parent_id": "companies"},
			status: http.StatusConflict,
			code:   string(engine.ErrCodeFolderCycle),
		},
		{
			name:   "missing body field",
			method: http.MethodPost,
			path:   "/api/v1/folders/companies/files",
			body:   map[string]any{"content": map[string]any{}},
			status: http.StatusBadRequest,
			code:   CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			var resp ErrorResponse
			w := ts.do(tt.method, tt.path, tt.body, &resp)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestSaveFolderRejectsInvalidMapping(t *testing.T) {
	ts := newTestServer(t)

	f := ir.DataFolder{
		Name:             "companies",
		ParentID:         "crm",
		ConnectorAccount: "memory",
		RemoteCollection: "companies",
		SourceSchema:     schema.Object(schema.Required("name", schema.String())),
		DestSchema:       schema.Object(schema.Required("title", schema.Number())),
		FieldMap:         mapping.New(mapping.Entry{Source: "name", Destination: "title"}),
	}
	var body map[string]any
	w := ts.do(http.MethodPut, "/api/v1/folders/companies", f, &body)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, string(engine.ErrCodeInvalidMapping), body["code"])
	assert.NotEmpty(t, body["errors"])
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.NewLockedError("f", "p"), http.StatusConflict},
		{engine.NewPipelineNotFoundError("p"), http.StatusNotFound},
		{&engine.RuntimeError{Code: engine.ErrCodePipelineBusy}, http.StatusConflict},
		{&engine.RuntimeError{Code: engine.ErrCodeStopped}, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}
