package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/transform"
)

// PreviewRow is the outcome of one field map entry applied to a sample
// file.
type PreviewRow struct {
	SourceField      string `json:"sourceField"`
	SourceValue      any    `json:"sourceValue"`
	DestinationField string `json:"destinationField"`
	TransformedValue any    `json:"transformedValue"`
	TransformerType  string `json:"transformerType,omitempty"`
	Warning          string `json:"warning,omitempty"`
	Error            string `json:"error,omitempty"`
}

// TransformerTrial is the outcome of an ad hoc transformer run. Exactly
// one of the shapes holds: {success, originalValue, value} or
// {success:false, error}.
type TransformerTrial struct {
	Success       bool   `json:"success"`
	OriginalValue any    `json:"originalValue,omitempty"`
	Value         any    `json:"value,omitempty"`
	Warning       string `json:"warning,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PreviewTransform applies a field map to one local file of a folder
// without writing anything. A nil fm previews the folder's own field map.
// The sample may be named by filename or by full file path.
func (e *Engine) PreviewTransform(ctx context.Context, workbookID, folderID, sampleFilePath string, fm *mapping.FieldMap) ([]PreviewRow, error) {
	folder, err := e.folder(ctx, workbookID, folderID)
	if err != nil {
		return nil, err
	}
	filename := strings.TrimPrefix(sampleFilePath, folder.Path+"/")
	file, err := e.GetFile(ctx, workbookID, folder.ID, filename)
	if err != nil {
		return nil, err
	}
	if fm == nil {
		fm = &folder.FieldMap
	}

	r := newIndexResolver(e.store, workbookID)
	display := file.State.Display()
	rows := make([]PreviewRow, 0, fm.Len())
	for _, m := range fm.Entries() {
		v, _ := transform.GetDotted(display, m.Source)
		row := PreviewRow{
			SourceField:      m.Source,
			SourceValue:      v,
			DestinationField: m.Destination,
		}
		if m.Transformer != nil {
			row.TransformerType = string(m.Transformer.Type())
		}
		res := transform.Apply(ctx, m.Transformer, v, r)
		row.TransformedValue = res.Value
		row.Warning = res.Warning
		row.Error = res.Error
		rows = append(rows, row)
	}
	return rows, nil
}

// TestTransformer runs cfg against the value at jsonPath in the file at
// filePath (folder path plus filename). Failures are reported in the
// result, not as an error; only storage errors are returned.
func (e *Engine) TestTransformer(ctx context.Context, workbookID, filePath, jsonPath string, cfg transform.Config) (TransformerTrial, error) {
	if err := transform.Validate(cfg); err != nil {
		return TransformerTrial{Error: err.Error()}, nil
	}

	folders, err := e.store.ListFolders(ctx, workbookID)
	if err != nil {
		return TransformerTrial{}, err
	}
	folderPath, filename := splitFilePath(filePath)
	var folder ir.DataFolder
	found := false
	for _, f := range folders {
		if f.Path == folderPath {
			folder, found = f, true
			break
		}
	}
	if !found {
		return TransformerTrial{Error: fmt.Sprintf("folder %q not found", folderPath)}, nil
	}

	file, err := e.GetFile(ctx, workbookID, folder.ID, filename)
	if IsNotFoundError(err) {
		return TransformerTrial{Error: fmt.Sprintf("file %q not found", filePath)}, nil
	}
	if err != nil {
		return TransformerTrial{}, err
	}

	v, ok, err := transform.Lookup(file.State.Display(), jsonPath)
	if err != nil {
		return TransformerTrial{Error: err.Error()}, nil
	}
	if !ok {
		return TransformerTrial{Error: fmt.Sprintf("path %q not found in %s", jsonPath, filePath)}, nil
	}

	r := newIndexResolver(e.store, workbookID)
	r.seed(folders)
	res := transform.Apply(ctx, cfg, v, r)
	if !res.OK() {
		return TransformerTrial{Error: res.Error}, nil
	}
	return TransformerTrial{Success: true, OriginalValue: v, Value: res.Value, Warning: res.Warning}, nil
}
