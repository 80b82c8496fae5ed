package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/syncbook/internal/merge"
)

func TestEnvelope_NewRecord(t *testing.T) {
	st := merge.NewState(nil)
	st.Stage("name", "Ada")
	st.Suggest("title", "Countess")
	f := LocalFile{ID: "f1", FolderID: "people", Filename: "ada.json", State: st, UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	env := Envelope(f, "crm/people", nil)
	assert.Equal(t, "Ada", env["name"])
	assert.Equal(t, []string{"name"}, env[FieldEditedFields])
	assert.Equal(t, map[string]any{"title": "Countess"}, env[FieldSuggestedValues])
	assert.Equal(t, true, env[FieldDirty])
	assert.Equal(t, true, env[FieldCreated])
	assert.Equal(t, false, env[FieldDeleted])
	assert.Nil(t, env[FieldSeen])

	meta := env[FieldMetadata].(map[string]any)
	assert.Equal(t, "new_f1", meta["id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", meta["updated_at"])
}

func TestEnvelope_PendingDelete(t *testing.T) {
	st := merge.NewState(map[string]any{"name": "Ada"})
	st.StageRecordDelete()
	f := LocalFile{ID: "f1", FolderID: "people", Filename: "ada.json", State: st}
	idx := &FileIndexEntry{RemoteRecordID: "rec9", LastSeenAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}

	env := Envelope(f, "people", idx)
	meta := env[FieldMetadata].(map[string]any)
	assert.Equal(t, "del_rec9", meta["id"])
	assert.Equal(t, "rec9", meta["remote_id"])
	assert.Equal(t, true, env[FieldDeleted])
	assert.Equal(t, false, env[FieldCreated])
	assert.Equal(t, "2026-05-01T00:00:00Z", env[FieldSeen])
	assert.Equal(t, []string{}, env[FieldEditedFields])
}
