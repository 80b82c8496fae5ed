// Package mapping holds field maps between a local folder schema and a
// destination collection schema, and the structural validator for them.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syncbook/internal/transform"
)

// Entry maps one source dot-path onto a destination dot-path, optionally
// through a transformer.
type Entry struct {
	Source      string
	Destination string
	Transformer transform.Config
}

// FieldMap is an ordered mapping keyed by source path. Keys are unique and
// iteration follows insertion order.
type FieldMap struct {
	entries []Entry
	index   map[string]int
}

// New builds a FieldMap from entries. Later duplicates replace earlier ones
// in place.
func New(entries ...Entry) FieldMap {
	var fm FieldMap
	for _, e := range entries {
		fm.Set(e)
	}
	return fm
}

// Set inserts or replaces the entry for e.Source. Replacing keeps the
// original position.
func (fm *FieldMap) Set(e Entry) {
	if fm.index == nil {
		fm.index = make(map[string]int)
	}
	if i, ok := fm.index[e.Source]; ok {
		fm.entries[i] = e
		return
	}
	fm.index[e.Source] = len(fm.entries)
	fm.entries = append(fm.entries, e)
}

// Get returns the entry for a source path.
func (fm FieldMap) Get(source string) (Entry, bool) {
	i, ok := fm.index[source]
	if !ok {
		return Entry{}, false
	}
	return fm.entries[i], true
}

// Delete removes the entry for a source path.
func (fm *FieldMap) Delete(source string) {
	i, ok := fm.index[source]
	if !ok {
		return
	}
	fm.entries = append(fm.entries[:i], fm.entries[i+1:]...)
	delete(fm.index, source)
	for j := i; j < len(fm.entries); j++ {
		fm.index[fm.entries[j].Source] = j
	}
}

// Entries returns a copy of the entries in order.
func (fm FieldMap) Entries() []Entry {
	out := make([]Entry, len(fm.entries))
	copy(out, fm.entries)
	return out
}

// Len returns the number of entries.
func (fm FieldMap) Len() int { return len(fm.entries) }

// ByDestination returns the entry writing to a destination path.
func (fm FieldMap) ByDestination(dest string) (Entry, bool) {
	for _, e := range fm.entries {
		if e.Destination == dest {
			return e, true
		}
	}
	return Entry{}, false
}

// Covers reports whether a local field (or a parent/child of it) is mapped.
func (fm FieldMap) Covers(field string) bool {
	for _, e := range fm.entries {
		if e.Source == field || hasPathPrefix(e.Source, field) || hasPathPrefix(field, e.Source) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '.'
}

type wireEntry struct {
	DestinationPath string          `json:"destinationPath"`
	Transformer     json.RawMessage `json:"transformer,omitempty"`
}

// MarshalJSON renders the map as an ordered JSON object. Plain entries are
// strings; transformed entries are {destinationPath, transformer} objects.
func (fm FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range fm.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Source)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if e.Transformer == nil {
			val, err = json.Marshal(e.Destination)
		} else {
			var t []byte
			t, err = transform.Marshal(e.Transformer)
			if err == nil {
				val, err = json.Marshal(wireEntry{DestinationPath: e.Destination, Transformer: t})
			}
		}
		if err != nil {
			return nil, fmt.Errorf("field map entry %q: %w", e.Source, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an ordered JSON object, preserving key order.
func (fm *FieldMap) UnmarshalJSON(data []byte) error {
	*fm = FieldMap{}
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("field map: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field map: expected object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("field map: %w", err)
		}
		source, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field map entry %q: %w", source, err)
		}
		e, err := decodeJSONEntry(source, raw)
		if err != nil {
			return err
		}
		if _, dup := fm.Get(source); dup {
			return fmt.Errorf("field map: duplicate source %q", source)
		}
		fm.Set(e)
	}
	return nil
}

func decodeJSONEntry(source string, raw json.RawMessage) (Entry, error) {
	var dest string
	if err := json.Unmarshal(raw, &dest); err == nil {
		return Entry{Source: source, Destination: dest}, nil
	}
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return Entry{}, fmt.Errorf("field map entry %q: %w", source, err)
	}
	if w.DestinationPath == "" {
		return Entry{}, fmt.Errorf("field map entry %q: destinationPath is required", source)
	}
	cfg, err := transform.Unmarshal(w.Transformer)
	if err != nil {
		return Entry{}, fmt.Errorf("field map entry %q: %w", source, err)
	}
	return Entry{Source: source, Destination: w.DestinationPath, Transformer: cfg}, nil
}

// UnmarshalYAML decodes the same shape from YAML, preserving key order.
func (fm *FieldMap) UnmarshalYAML(node *yaml.Node) error {
	*fm = FieldMap{}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: field map must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		source := node.Content[i].Value
		val := node.Content[i+1]

		e := Entry{Source: source}
		switch val.Kind {
		case yaml.ScalarNode:
			e.Destination = val.Value
		case yaml.MappingNode:
			var w struct {
				DestinationPath string         `yaml:"destinationPath"`
				Transformer     map[string]any `yaml:"transformer"`
			}
			if err := val.Decode(&w); err != nil {
				return fmt.Errorf("line %d: field map entry %q: %w", val.Line, source, err)
			}
			if w.DestinationPath == "" {
				return fmt.Errorf("line %d: field map entry %q: destinationPath is required", val.Line, source)
			}
			e.Destination = w.DestinationPath
			if w.Transformer != nil {
				cfg, err := transform.FromMap(w.Transformer)
				if err != nil {
					return fmt.Errorf("line %d: field map entry %q: %w", val.Line, source, err)
				}
				e.Transformer = cfg
			}
		default:
			return fmt.Errorf("line %d: field map entry %q: unsupported value", val.Line, source)
		}
		if _, dup := fm.Get(source); dup {
			return fmt.Errorf("line %d: field map: duplicate source %q", val.Line, source)
		}
		fm.Set(e)
	}
	return nil
}
