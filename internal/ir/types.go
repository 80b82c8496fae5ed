package ir

import (
	"time"

	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/schema"
)

// DataFolder is the local analogue of one remote collection.
type DataFolder struct {
	ID               string           `json:"id"`
	WorkbookID       string           `json:"workbook_id"`
	Name             string           `json:"name"`
	ParentID         string           `json:"parent_id,omitempty"`
	Path             string           `json:"path"`
	ConnectorAccount string           `json:"connector_account,omitempty"`
	RemoteCollection string           `json:"remote_collection,omitempty"`
	SourceSchema     *schema.Node     `json:"source_schema,omitempty"`
	DestSchema       *schema.Node     `json:"dest_schema,omitempty"`
	FieldMap         mapping.FieldMap `json:"field_map"`
}

// Bound reports whether the folder publishes to a remote collection.
func (f DataFolder) Bound() bool {
	return f.ConnectorAccount != "" && f.RemoteCollection != ""
}

// FilePath joins the folder path and a filename.
func (f DataFolder) FilePath(filename string) string {
	return JoinPath(f.Path, filename)
}

// LocalFile is one local record and its edit state.
type LocalFile struct {
	ID        string      `json:"id"`
	FolderID  string      `json:"folder_id"`
	Filename  string      `json:"filename"`
	State     merge.State `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Key returns the merge model key of the file.
func (f LocalFile) Key() merge.Key {
	return merge.Key{FolderID: f.FolderID, Filename: f.Filename}
}

// FileIndexEntry maps a local file to its remote record.
type FileIndexEntry struct {
	WorkbookID     string    `json:"workbook_id"`
	FolderPath     string    `json:"folder_path"`
	Filename       string    `json:"filename"`
	RemoteRecordID string    `json:"remote_record_id"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// FilePath returns the joined path of the indexed file.
func (e FileIndexEntry) FilePath() string { return JoinPath(e.FolderPath, e.Filename) }

// RefIndexEntry records a cross-folder reference found while transforming
// SourceField of the file at SourceFilePath. An empty TargetRecordID means
// the reference is still deferred.
type RefIndexEntry struct {
	WorkbookID       string    `json:"workbook_id"`
	SourceFilePath   string    `json:"source_file_path"`
	SourceField      string    `json:"source_field"`
	DestinationField string    `json:"destination_field"`
	Kind             string    `json:"kind"`
	TargetFolderPath string    `json:"target_folder_path"`
	TargetFileName   string    `json:"target_file_name,omitempty"`
	TargetRecordID   string    `json:"target_record_id,omitempty"`
	LookupPath       string    `json:"lookup_path,omitempty"`
	Branch           string    `json:"branch"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Resolved reports whether the target identity is known.
func (e RefIndexEntry) Resolved() bool { return e.TargetRecordID != "" }

// Scope narrows planning to a subset of a workbook.
type Scope struct {
	FolderIDs  []string `json:"folder_ids,omitempty"`
	PathPrefix string   `json:"path_prefix,omitempty"`
	Where      string   `json:"where,omitempty"`
}

// Empty reports whether the scope selects everything.
func (s Scope) Empty() bool {
	return len(s.FolderIDs) == 0 && s.PathPrefix == "" && s.Where == ""
}

// PublishPipeline is a planned, ordered set of operations.
type PublishPipeline struct {
	ID              string         `json:"id"`
	WorkbookID      string         `json:"workbook_id"`
	Scope           Scope          `json:"scope"`
	Branch          string         `json:"branch"`
	FolderIDs       []string       `json:"folder_ids"`
	Status          PipelineStatus `json:"status"`
	Phases          []Phase        `json:"phases"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	Cancelled       bool           `json:"cancelled,omitempty"`
}

// PipelineEntry is one operation of a pipeline.
type PipelineEntry struct {
	ID          string      `json:"id"`
	PipelineID  string      `json:"pipeline_id"`
	FolderID    string      `json:"folder_id"`
	FilePath    string      `json:"file_path"`
	Phase       Phase       `json:"phase"`
	Seq         int         `json:"seq"`
	Operation   Operation   `json:"operation"`
	Status      EntryStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	AttemptedAt *time.Time  `json:"attempted_at,omitempty"`
}

// EntryKey identifies an entry across plans of the same state.
type EntryKey struct {
	FilePath string `json:"file_path"`
	Phase    Phase  `json:"phase"`
}

func (k EntryKey) String() string { return k.FilePath + "#" + k.Phase.String() }

// Key returns the file path and phase of the entry.
func (e PipelineEntry) Key() EntryKey { return EntryKey{FilePath: e.FilePath, Phase: e.Phase} }

// JoinPath joins a folder path and a name.
func JoinPath(folderPath, name string) string {
	if folderPath == "" {
		return name
	}
	if name == "" {
		return folderPath
	}
	return folderPath + "/" + name
}
