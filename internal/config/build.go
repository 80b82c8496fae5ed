package config

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/syncbook/internal/compiler"
	"github.com/roach88/syncbook/internal/connector"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/schema"
)

// Connectors builds the connector registry. Memory accounts with a state
// file reopen it; declared collections are defined on every start.
func (c *Config) Connectors() (*connector.Registry, error) {
	reg := connector.NewRegistry()
	for _, a := range c.Accounts {
		var mem *connector.Memory
		if a.State != "" {
			m, err := connector.OpenMemory(a.Name, c.Resolve(a.State))
			if err != nil {
				return nil, err
			}
			mem = m
		} else {
			mem = connector.NewMemory(a.Name)
		}
		for _, col := range a.Collections {
			var s *schema.Node
			if col.Schema != nil {
				n, err := c.loadSchema(*col.Schema)
				if err != nil {
					return nil, fmt.Errorf("account %s collection %s: %w", a.Name, col.Name, err)
				}
				s = n
			}
			mem.DefineCollection(col.Name, s)
		}
		reg.Register(a.Name, mem)
	}
	return reg, nil
}

// DataFolders resolves the folder declarations, parents before children.
// A bound folder without a dest_schema takes the schema its connector
// reports for the collection.
func (c *Config) DataFolders(ctx context.Context, reg *connector.Registry) ([]ir.DataFolder, error) {
	byID := make(map[string]Folder, len(c.Folders))
	for _, f := range c.Folders {
		byID[f.ID] = f
	}

	paths := make(map[string]string, len(c.Folders))
	var folderPath func(id string, depth int) (string, error)
	folderPath = func(id string, depth int) (string, error) {
		if p, ok := paths[id]; ok {
			return p, nil
		}
		if depth > len(c.Folders) {
			return "", fmt.Errorf("folder %s: parent chain contains a cycle", id)
		}
		f, ok := byID[id]
		if !ok {
			return "", fmt.Errorf("folder %s: not declared", id)
		}
		p := f.Name
		if f.Parent != "" {
			parent, err := folderPath(f.Parent, depth+1)
			if err != nil {
				return "", err
			}
			p = path.Join(parent, f.Name)
		}
		paths[id] = p
		return p, nil
	}

	out := make([]ir.DataFolder, 0, len(c.Folders))
	for _, f := range c.Folders {
		p, err := folderPath(f.ID, 0)
		if err != nil {
			return nil, err
		}
		df := ir.DataFolder{
			ID:               f.ID,
			WorkbookID:       c.Workbook,
			Name:             f.Name,
			ParentID:         f.Parent,
			Path:             p,
			ConnectorAccount: f.Account,
			RemoteCollection: f.Collection,
			FieldMap:         f.FieldMap,
		}
		if f.SourceSchema != nil {
			if df.SourceSchema, err = c.loadSchema(*f.SourceSchema); err != nil {
				return nil, fmt.Errorf("folder %s source schema: %w", f.ID, err)
			}
		}
		switch {
		case f.DestSchema != nil:
			if df.DestSchema, err = c.loadSchema(*f.DestSchema); err != nil {
				return nil, fmt.Errorf("folder %s dest schema: %w", f.ID, err)
			}
		case f.Account != "":
			conn, err := reg.Get(f.Account)
			if err != nil {
				return nil, fmt.Errorf("folder %s: %w", f.ID, err)
			}
			if df.DestSchema, err = conn.FetchSchema(ctx, f.Collection); err != nil {
				return nil, fmt.Errorf("folder %s dest schema: %w", f.ID, err)
			}
		}
		if f.FieldMapRef != nil {
			if !strings.EqualFold(filepath.Ext(f.FieldMapRef.File), ".cue") {
				return nil, fmt.Errorf("folder %s: field_map_ref must name a .cue file", f.ID)
			}
			if df.FieldMap, err = compiler.LoadFieldMap(c.Resolve(f.FieldMapRef.File), f.FieldMapRef.Name); err != nil {
				return nil, fmt.Errorf("folder %s field map: %w", f.ID, err)
			}
		}
		out = append(out, df)
	}

	sortByDepth(out)
	return out, nil
}

func (c *Config) loadSchema(r Ref) (*schema.Node, error) {
	return compiler.LoadSchema(c.Resolve(r.File), r.Name)
}

func sortByDepth(folders []ir.DataFolder) {
	slices.SortStableFunc(folders, func(a, b ir.DataFolder) int {
		return strings.Count(a.Path, "/") - strings.Count(b.Path, "/")
	})
}
