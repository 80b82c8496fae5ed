package ir

import "time"

// Envelope renders a local file the way a record view consumes it: the
// displayed field values plus reserved meta fields describing edit state.
//
// The record id is the remote identity when idx is non-nil, otherwise the
// local id with the new-record prefix. A staged deletion wraps either in
// the pending-delete prefix.
func Envelope(f LocalFile, folderPath string, idx *FileIndexEntry) map[string]any {
	out := f.State.Display()

	id := NewID(f.ID)
	remoteID := ""
	var seen any
	if idx != nil {
		id = idx.RemoteRecordID
		remoteID = idx.RemoteRecordID
		seen = idx.LastSeenAt.UTC().Format(time.RFC3339)
	}
	if f.State.IsDeleted() {
		id = DeletedID(id)
	}

	edited := f.State.StagedFields()
	if edited == nil {
		edited = []string{}
	}

	suggested := make(map[string]any, len(f.State.Suggested))
	for field, v := range f.State.Suggested {
		if v.Tombstone {
			suggested[field] = map[string]any{"deleted": true}
			continue
		}
		suggested[field] = v.Data
	}

	out[FieldEditedFields] = edited
	out[FieldSuggestedValues] = suggested
	out[FieldMetadata] = map[string]any{
		"id":          id,
		"local_id":    f.ID,
		"remote_id":   remoteID,
		"folder_id":   f.FolderID,
		"folder_path": folderPath,
		"filename":    f.Filename,
		"updated_at":  f.UpdatedAt.UTC().Format(time.RFC3339),
	}
	out[FieldDirty] = f.State.Dirty()
	out[FieldSeen] = seen
	out[FieldDeleted] = f.State.IsDeleted()
	out[FieldCreated] = idx == nil
	return out
}
