package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/transform"
)

func TestFolder_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	f := createTestFolder("deals", "crm/deals")
	f.FieldMap = mapping.New(
		mapping.Entry{Source: "title", Destination: "name"},
		mapping.Entry{Source: "amount", Destination: "value", Transformer: transform.StringToNumber{StripCurrency: true}},
	)
	require.NoError(t, s.PutFolder(ctx, f))

	got, err := s.GetFolder(ctx, "deals")
	require.NoError(t, err)
	assert.Equal(t, f.Path, got.Path)
	assert.Equal(t, f.SourceSchema, got.SourceSchema)
	assert.Equal(t, f.DestSchema, got.DestSchema)
	assert.Equal(t, f.FieldMap.Entries(), got.FieldMap.Entries())
}

func TestFolder_NilSchemas(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	f := ir.DataFolder{ID: "notes", WorkbookID: "wb1", Name: "notes", Path: "notes"}
	require.NoError(t, s.PutFolder(ctx, f))
	got, err := s.GetFolder(ctx, "notes")
	require.NoError(t, err)
	assert.Nil(t, got.SourceSchema)
	assert.Nil(t, got.DestSchema)
	assert.Equal(t, 0, got.FieldMap.Len())
}

func TestFolder_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetFolder(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFolders_OrderedByPath(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.PutFolder(ctx, createTestFolder("b", "z")))
	require.NoError(t, s.PutFolder(ctx, createTestFolder("a", "m")))
	other := createTestFolder("c", "a")
	other.WorkbookID = "wb2"
	require.NoError(t, s.PutFolder(ctx, other))

	folders, err := s.ListFolders(ctx, "wb1")
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "m", folders[0].Path)
	assert.Equal(t, "z", folders[1].Path)
}

func TestMoveFolders_RewritesIndexPaths(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.PutFolder(ctx, createTestFolder("crm", "crm")))
	people := createTestFolder("people", "crm/people")
	people.ParentID = "crm"
	require.NoError(t, s.PutFolder(ctx, people))
	require.NoError(t, s.PutFolder(ctx, createTestFolder("archive", "archive")))

	require.NoError(t, s.Upsert(ctx, ir.FileIndexEntry{WorkbookID: "wb1", FolderPath: "crm/people", Filename: "ada.json", RemoteRecordID: "r1", LastSeenAt: testNow}))
	require.NoError(t, s.UpsertRef(ctx, ir.RefIndexEntry{
		WorkbookID: "wb1", SourceFilePath: "crm/people/ada.json", SourceField: "company", Branch: "draft",
		DestinationField: "company_id", Kind: "source_fk_to_dest_fk", TargetFolderPath: "crm/people", TargetFileName: "x.json",
		UpdatedAt: testNow,
	}))

	require.NoError(t, s.MoveFolders(ctx, "wb1", []FolderMove{
		{FolderID: "people", ParentID: "archive", OldPath: "crm/people", NewPath: "archive/people"},
	}))

	got, err := s.GetFolder(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, "archive/people", got.Path)
	assert.Equal(t, "archive", got.ParentID)

	id, ok, err := s.RecordIDFor(ctx, "wb1", "archive/people", "ada.json")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r1", id)

	refs, err := s.ResolveRef(ctx, "wb1", "archive/people/ada.json", "draft")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "archive/people", refs[0].TargetFolderPath)
}

func TestMoveFolders_SwapPaths(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.PutFolder(ctx, createTestFolder("a", "x")))
	require.NoError(t, s.PutFolder(ctx, createTestFolder("b", "y")))

	require.NoError(t, s.MoveFolders(ctx, "wb1", []FolderMove{
		{FolderID: "a", OldPath: "x", NewPath: "y"},
		{FolderID: "b", OldPath: "y", NewPath: "x"},
	}))

	a, err := s.GetFolder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "y", a.Path)
}

func TestMoveFolders_UnknownFolderRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.PutFolder(ctx, createTestFolder("a", "x")))

	err := s.MoveFolders(ctx, "wb1", []FolderMove{
		{FolderID: "a", OldPath: "x", NewPath: "moved"},
		{FolderID: "ghost", OldPath: "g", NewPath: "h"},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := s.GetFolder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", a.Path)
}
