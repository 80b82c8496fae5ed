package ir

// OperationKind is the connector capability an operation invokes.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Operation is the materialized payload of a pipeline entry.
//
// Fields holds destination values keyed and nested by destination path.
// Published records the local field values the payload was built from, so
// the merge model can be advanced precisely once the operation succeeds.
type Operation struct {
	Kind             OperationKind  `json:"kind"`
	Collection       string         `json:"collection"`
	RecordID         string         `json:"record_id,omitempty"`
	Fields           map[string]any `json:"fields,omitempty"`
	Published        map[string]any `json:"published,omitempty"`
	PublishedDeletes []string       `json:"published_deletes,omitempty"`
	Refs             []RefBinding   `json:"refs,omitempty"`
	FieldErrors      []FieldError   `json:"field_errors,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
}

// Empty reports whether the operation carries nothing for the connector.
func (o Operation) Empty() bool {
	return o.Kind == OpUpdate && len(o.Fields) == 0 && len(o.Refs) == 0
}

// Deferred returns the refs that could not be resolved at planning time.
func (o Operation) Deferred() []RefBinding {
	var out []RefBinding
	for _, r := range o.Refs {
		if r.Deferred {
			out = append(out, r)
		}
	}
	return out
}

// RefBinding is a cross-folder reference produced by a reference
// transformer for one mapped field.
type RefBinding struct {
	SourceField      string `json:"source_field"`
	DestinationField string `json:"destination_field"`
	Kind             string `json:"kind"`
	TargetFolderID   string `json:"target_folder_id"`
	TargetFolderPath string `json:"target_folder_path"`
	TargetFileName   string `json:"target_file_name,omitempty"`
	TargetRecordID   string `json:"target_record_id,omitempty"`
	LookupPath       string `json:"lookup_path,omitempty"`
	Deferred         bool   `json:"deferred,omitempty"`
}

// FieldError is a hard transformation failure that kept one field out of
// the payload.
type FieldError struct {
	SourceField      string `json:"source_field"`
	DestinationField string `json:"destination_field"`
	Message          string `json:"message"`
}
