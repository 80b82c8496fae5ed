package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
)

// ImportFile is one record to import. Dir is the slash separated path of
// the child folder below the import root, empty for the root itself.
type ImportFile struct {
	Dir      string         `json:"dir,omitempty"`
	Filename string         `json:"filename"`
	Content  map[string]any `json:"content"`
}

// ImportOptions controls reserved-name handling.
type ImportOptions struct {
	// RenameReserved renames reserved keys with ir.RenamePrefix instead
	// of rejecting the import.
	RenameReserved bool
}

// ImportReport lists what an import did.
type ImportReport struct {
	Imported []string            `json:"imported"`
	Skipped  []string            `json:"skipped"`
	Renamed  map[string][]string `json:"renamed,omitempty"`
}

// ReadImportDir reads every *.json file below dir. Each file must hold one
// JSON object; its name without the extension becomes the record filename.
func ReadImportDir(dir string) ([]ImportFile, error) {
	var files []ImportFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(dir, filepath.Dir(p))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var content map[string]any
		if err := json.Unmarshal(data, &content); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if rel == "." {
			rel = ""
		}
		files = append(files, ImportFile{
			Dir:      filepath.ToSlash(rel),
			Filename: strings.TrimSuffix(d.Name(), ".json"),
			Content:  content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read import dir: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Dir != files[j].Dir {
			return files[i].Dir < files[j].Dir
		}
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// Import creates files as locally created records under folderID. Nested
// directories map onto child folders by name. Every file is checked for
// reserved names before anything is written; files run one at a time.
// Existing files are skipped.
func (e *Engine) Import(ctx context.Context, workbookID, folderID string, files []ImportFile, opts ImportOptions) (ImportReport, error) {
	folders, err := e.store.ListFolders(ctx, workbookID)
	if err != nil {
		return ImportReport{}, fmt.Errorf("import: %w", err)
	}
	root, ok := findFolder(folders, folderID)
	if !ok {
		return ImportReport{}, NewFolderNotFoundError(folderID)
	}

	report := ImportReport{Imported: []string{}, Skipped: []string{}}
	targets := make([]ir.DataFolder, len(files))
	contents := make([]map[string]any, len(files))
	for i, f := range files {
		target, ok := childByPath(folders, root, f.Dir)
		if !ok {
			return ImportReport{}, &RuntimeError{
				Code:     ErrCodeFolderNotFound,
				Message:  fmt.Sprintf("no folder for directory %q", f.Dir),
				FolderID: root.ID,
			}
		}
		if f.Filename == "" || strings.Contains(f.Filename, "/") {
			return ImportReport{}, fmt.Errorf("import: invalid filename %q", f.Filename)
		}
		filePath := target.FilePath(f.Filename)

		content := f.Content
		if bad := ir.CheckReserved(content); len(bad) > 0 {
			if !opts.RenameReserved {
				return ImportReport{}, reservedFieldError(target.ID, filePath, bad)
			}
			var renamed []string
			content, renamed = ir.RenameReserved(content)
			if report.Renamed == nil {
				report.Renamed = make(map[string][]string)
			}
			report.Renamed[filePath] = renamed
		}
		targets[i] = target
		contents[i] = content
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		filePath := targets[i].FilePath(f.Filename)
		created, err := e.createLocal(ctx, targets[i], f.Filename, contents[i])
		if err != nil {
			return report, err
		}
		if !created {
			report.Skipped = append(report.Skipped, filePath)
			continue
		}
		report.Imported = append(report.Imported, filePath)
	}

	slog.Info("import finished",
		"folder", root.Path,
		"imported", len(report.Imported),
		"skipped", len(report.Skipped),
		"renamed", len(report.Renamed),
	)
	return report, nil
}

// createLocal writes a new file whose every field is staged. It reports
// false if the file already exists.
func (e *Engine) createLocal(ctx context.Context, folder ir.DataFolder, filename string, content map[string]any) (bool, error) {
	if _, err := e.store.GetFile(ctx, folder.ID, filename); err == nil {
		return false, nil
	}
	var st merge.State
	for field, v := range content {
		st.Stage(field, v)
	}
	now := e.clock.Now()
	if err := e.store.CreateFile(ctx, ir.LocalFile{
		ID:        e.ids.Generate(),
		FolderID:  folder.ID,
		Filename:  filename,
		State:     st,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func reservedFieldError(folderID, filePath string, fields []string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeReservedField,
		Message:  "reserved field names in user data: " + strings.Join(fields, ", "),
		FolderID: folderID,
		FilePath: filePath,
		Details:  map[string]string{"fields": strings.Join(fields, ",")},
	}
}

func findFolder(folders []ir.DataFolder, id string) (ir.DataFolder, bool) {
	for _, f := range folders {
		if f.ID == id {
			return f, true
		}
	}
	return ir.DataFolder{}, false
}

// childByPath walks down from root along the slash separated names in dir.
func childByPath(folders []ir.DataFolder, root ir.DataFolder, dir string) (ir.DataFolder, bool) {
	if dir == "" {
		return root, true
	}
	want := path.Join(root.Path, dir)
	for _, f := range folders {
		if f.WorkbookID == root.WorkbookID && f.Path == want {
			return f, true
		}
	}
	return ir.DataFolder{}, false
}
