// Package workbook models the folder hierarchy of a workbook.
//
// Folders form a forest with single parent references, held in an arena
// (a slice plus an id index) instead of pointers. Every walk toward the root
// is bounded by the number of folders, so a corrupted parent chain is
// reported as a cycle instead of looping.
package workbook

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/syncbook/internal/ir"
)

var (
	ErrUnknownFolder   = errors.New("unknown folder")
	ErrDuplicateFolder = errors.New("duplicate folder")
	ErrInvalidName     = errors.New("invalid folder name")
	ErrPathConflict    = errors.New("folder path already in use")
)

// CycleError reports a parent assignment that would make a folder its own
// ancestor.
type CycleError struct {
	FolderID string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("moving folder %q under %q would create a cycle", e.FolderID, e.ParentID)
}

// Node is one folder in the arena.
type Node struct {
	ID       string
	Name     string
	ParentID string
}

// Tree is an arena of folders.
type Tree struct {
	nodes []Node
	index map[string]int
}

// NewTree builds a tree from folder definitions and rejects unknown
// parents, duplicate ids, bad names and cycles.
func NewTree(folders []ir.DataFolder) (*Tree, error) {
	t := &Tree{index: make(map[string]int, len(folders))}
	for _, f := range folders {
		if _, dup := t.index[f.ID]; dup {
			return nil, fmt.Errorf("folder %q: %w", f.ID, ErrDuplicateFolder)
		}
		if err := checkName(f.Name); err != nil {
			return nil, fmt.Errorf("folder %q: %w", f.ID, err)
		}
		t.index[f.ID] = len(t.nodes)
		t.nodes = append(t.nodes, Node{ID: f.ID, Name: f.Name, ParentID: f.ParentID})
	}
	for _, n := range t.nodes {
		if n.ParentID == "" {
			continue
		}
		if _, ok := t.index[n.ParentID]; !ok {
			return nil, fmt.Errorf("folder %q parent %q: %w", n.ID, n.ParentID, ErrUnknownFolder)
		}
		if t.isAncestor(n.ID, n.ParentID) {
			return nil, &CycleError{FolderID: n.ID, ParentID: n.ParentID}
		}
	}
	paths := make(map[string]string, len(t.nodes))
	for _, n := range t.nodes {
		p, _ := t.Path(n.ID)
		if other, taken := paths[p]; taken {
			return nil, fmt.Errorf("folders %q and %q share path %q: %w", other, n.ID, p, ErrPathConflict)
		}
		paths[p] = n.ID
	}
	return t, nil
}

// Len returns the number of folders.
func (t *Tree) Len() int { return len(t.nodes) }

// Get returns the node for id.
func (t *Tree) Get(id string) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Path joins the names from the root down to id.
func (t *Tree) Path(id string) (string, error) {
	var names []string
	cur := id
	for steps := 0; cur != ""; steps++ {
		if steps > len(t.nodes) {
			return "", &CycleError{FolderID: id, ParentID: cur}
		}
		i, ok := t.index[cur]
		if !ok {
			return "", fmt.Errorf("folder %q: %w", cur, ErrUnknownFolder)
		}
		names = append(names, t.nodes[i].Name)
		cur = t.nodes[i].ParentID
	}
	for l, r := 0, len(names)-1; l < r; l, r = l+1, r-1 {
		names[l], names[r] = names[r], names[l]
	}
	return strings.Join(names, "/"), nil
}

// WouldCycle reports whether making parentID the parent of id would make
// id its own ancestor. The walk starts at parentID and climbs toward the
// root for at most Len()+1 steps.
func (t *Tree) WouldCycle(id, parentID string) bool {
	return t.isAncestor(id, parentID)
}

// isAncestor reports whether id is parentID itself or one of its ancestors.
// A chain longer than the arena also counts as a cycle.
func (t *Tree) isAncestor(id, parentID string) bool {
	cur := parentID
	for steps := 0; cur != ""; steps++ {
		if cur == id || steps > len(t.nodes) {
			return true
		}
		i, ok := t.index[cur]
		if !ok {
			return false
		}
		cur = t.nodes[i].ParentID
	}
	return false
}

// Descendants returns the ids below id, parents before children and
// siblings in id order.
func (t *Tree) Descendants(id string) []string {
	children := make(map[string][]string)
	for _, n := range t.nodes {
		if n.ParentID != "" {
			children[n.ParentID] = append(children[n.ParentID], n.ID)
		}
	}
	var out []string
	queue := []string{id}
	visited := map[string]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		kids := children[cur]
		sort.Strings(kids)
		for _, k := range kids {
			if visited[k] {
				continue
			}
			visited[k] = true
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out
}

// Placement is the before and after position of one folder in a move.
type Placement struct {
	FolderID string
	ParentID string
	OldPath  string
	NewPath  string
}

// Move reparents id under parentID (empty for the root) and returns the
// placements of id and every descendant. The tree is only modified when
// the move is valid.
func (t *Tree) Move(id, parentID string) ([]Placement, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("folder %q: %w", id, ErrUnknownFolder)
	}
	if parentID != "" {
		if _, ok := t.index[parentID]; !ok {
			return nil, fmt.Errorf("parent %q: %w", parentID, ErrUnknownFolder)
		}
		if t.WouldCycle(id, parentID) {
			return nil, &CycleError{FolderID: id, ParentID: parentID}
		}
	}

	moved := append([]string{id}, t.Descendants(id)...)
	old := make(map[string]string, len(moved))
	for _, m := range moved {
		p, err := t.Path(m)
		if err != nil {
			return nil, err
		}
		old[m] = p
	}

	prevParent := t.nodes[i].ParentID
	t.nodes[i].ParentID = parentID

	placements := make([]Placement, 0, len(moved))
	for _, m := range moved {
		p, err := t.Path(m)
		if err != nil {
			t.nodes[i].ParentID = prevParent
			return nil, err
		}
		n := t.nodes[t.index[m]]
		placements = append(placements, Placement{FolderID: m, ParentID: n.ParentID, OldPath: old[m], NewPath: p})
	}

	newPath := placements[0].NewPath
	for _, n := range t.nodes {
		if n.ID == id || n.ParentID != parentID {
			continue
		}
		if n.Name == t.nodes[i].Name {
			t.nodes[i].ParentID = prevParent
			return nil, fmt.Errorf("%q: %w", newPath, ErrPathConflict)
		}
	}
	return placements, nil
}

func checkName(name string) error {
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}
