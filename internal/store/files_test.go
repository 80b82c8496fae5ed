package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/merge"
)

func TestFile_CreateAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.PutFolder(ctx, createTestFolder("people", "people")))

	f := createTestFile("f1", "people", "ada.json", map[string]any{"name": "Ada"})
	f.State.Stage("name", "Ada Lovelace")
	require.NoError(t, s.CreateFile(ctx, f))

	got, err := s.GetFile(ctx, "people", "ada.json")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.ID)
	assert.Equal(t, f.State, got.State)
	assert.Equal(t, testNow, got.CreatedAt)

	assert.Error(t, s.CreateFile(ctx, f), "duplicate filename")
}

func TestFile_RequiresFolder(t *testing.T) {
	s := createTestStore(t)
	err := s.CreateFile(t.Context(), createTestFile("f1", "ghost", "a.json", nil))
	assert.Error(t, err)
}

func TestFile_ListAndDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.PutFolder(ctx, createTestFolder("people", "people")))
	require.NoError(t, s.CreateFile(ctx, createTestFile("f2", "people", "b.json", nil)))
	require.NoError(t, s.CreateFile(ctx, createTestFile("f1", "people", "a.json", nil)))

	files, err := s.ListFiles(ctx, "people")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.json", files[0].Filename)

	require.NoError(t, s.DeleteFile(ctx, "people", "a.json"))
	require.NoError(t, s.DeleteFile(ctx, "people", "a.json"))
	_, err = s.GetFile(ctx, "people", "a.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_MergeBackend(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.PutFolder(ctx, createTestFolder("people", "people")))
	require.NoError(t, s.CreateFile(ctx, createTestFile("f1", "people", "ada.json", map[string]any{"name": "Ada"})))

	m := merge.NewModel(s)
	key := merge.Key{FolderID: "people", Filename: "ada.json"}
	_, err := m.Update(ctx, key, func(st *merge.State) error {
		st.Suggest("name", "Countess")
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetFile(ctx, "people", "ada.json")
	require.NoError(t, err)
	assert.Equal(t, merge.StatusSuggestedOnly, got.State.FieldStatus("name"))

	_, err = m.Update(ctx, merge.Key{FolderID: "people", Filename: "nobody.json"}, func(*merge.State) error { return nil })
	assert.ErrorIs(t, err, merge.ErrUnknownRecord)

	assert.ErrorIs(t, s.SaveState(ctx, merge.Key{FolderID: "people", Filename: "nobody.json"}, merge.State{}), ErrNotFound)
}
