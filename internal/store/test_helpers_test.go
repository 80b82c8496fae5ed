package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/merge"
	"github.com/roach88/syncbook/internal/schema"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFolder creates a folder with a minimal schema pair.
func createTestFolder(id, path string) ir.DataFolder {
	return ir.DataFolder{
		ID:               id,
		WorkbookID:       "wb1",
		Name:             id,
		Path:             path,
		ConnectorAccount: "memory",
		RemoteCollection: id,
		SourceSchema:     schema.Object(schema.Required("name", schema.String())),
		DestSchema:       schema.Object(schema.Required("full_name", schema.String())),
		FieldMap:         mapping.New(mapping.Entry{Source: "name", Destination: "full_name"}),
	}
}

// createTestFile creates a local file with remote content.
func createTestFile(id, folderID, filename string, content map[string]any) ir.LocalFile {
	return ir.LocalFile{
		ID:        id,
		FolderID:  folderID,
		Filename:  filename,
		State:     merge.NewState(content),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}
