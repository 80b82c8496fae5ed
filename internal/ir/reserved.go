package ir

import (
	"sort"
	"strings"

	"github.com/roach88/syncbook/internal/merge"
)

// Reserved meta field names. They are rendered into record envelopes and
// must never collide with user field names.
const (
	FieldEditedFields    = "__edited_fields"
	FieldSuggestedValues = "__suggested_values"
	FieldMetadata        = "__metadata"
	FieldDirty           = "__dirty"
	FieldSeen            = "__seen"
	FieldDeleted         = merge.RecordKey
	FieldCreated         = "__created"
)

var reservedNames = []string{
	FieldEditedFields,
	FieldSuggestedValues,
	FieldMetadata,
	FieldDirty,
	FieldSeen,
	FieldDeleted,
	FieldCreated,
}

// RenamePrefix is prepended to reserved names found in imported data.
const RenamePrefix = "user_"

// ReservedNames returns the reserved meta field names.
func ReservedNames() []string {
	out := make([]string, len(reservedNames))
	copy(out, reservedNames)
	return out
}

// IsReserved reports whether name is a reserved meta field name.
func IsReserved(name string) bool {
	for _, r := range reservedNames {
		if r == name {
			return true
		}
	}
	return false
}

// CheckReserved returns the dot paths of every object key in content that
// is a reserved name, sorted.
func CheckReserved(content map[string]any) []string {
	var out []string
	walkKeys(content, "", func(path, key string) {
		if IsReserved(key) {
			out = append(out, JoinDotted(path, key))
		}
	})
	sort.Strings(out)
	return out
}

// RenameReserved returns a copy of content in which every reserved key is
// renamed with RenamePrefix, together with the renamed dot paths. A rename
// that would collide with an existing key is prefixed again until free.
func RenameReserved(content map[string]any) (map[string]any, []string) {
	var renamed []string
	out := renameIn(content, "", &renamed)
	sort.Strings(renamed)
	return out, renamed
}

func renameIn(m map[string]any, path string, renamed *[]string) map[string]any {
	out := make(map[string]any, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !IsReserved(k) {
			out[k] = renameValue(m[k], JoinDotted(path, k), renamed)
		}
	}
	for _, k := range keys {
		if !IsReserved(k) {
			continue
		}
		name := RenamePrefix + k
		for {
			if _, taken := m[name]; !taken {
				if _, taken := out[name]; !taken {
					break
				}
			}
			name = RenamePrefix + name
		}
		out[name] = renameValue(m[k], JoinDotted(path, k), renamed)
		*renamed = append(*renamed, JoinDotted(path, k))
	}
	return out
}

func renameValue(v any, path string, renamed *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		return renameIn(t, path, renamed)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = renameValue(e, path, renamed)
		}
		return out
	default:
		return v
	}
}

func walkKeys(v any, path string, fn func(path, key string)) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			fn(path, k)
			walkKeys(child, JoinDotted(path, k), fn)
		}
	case []any:
		for _, child := range t {
			walkKeys(child, path, fn)
		}
	}
}

// JoinDotted joins two dot-path fragments.
func JoinDotted(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}

// Provisional identity prefixes.
const (
	NewIDPrefix     = "new_"
	DeletedIDPrefix = "del_"
)

// NewID marks a locally created identity that has not been published yet.
func NewID(id string) string { return NewIDPrefix + StripProvisional(id) }

// DeletedID marks an identity whose deletion is pending confirmation.
func DeletedID(id string) string { return DeletedIDPrefix + StripProvisional(id) }

// IsNewID reports whether id carries the locally-created prefix.
func IsNewID(id string) bool { return strings.HasPrefix(id, NewIDPrefix) }

// IsDeletedID reports whether id carries the pending-delete prefix.
func IsDeletedID(id string) bool { return strings.HasPrefix(id, DeletedIDPrefix) }

// StripProvisional removes any provisional prefixes from id.
func StripProvisional(id string) string {
	for {
		switch {
		case strings.HasPrefix(id, NewIDPrefix):
			id = id[len(NewIDPrefix):]
		case strings.HasPrefix(id, DeletedIDPrefix):
			id = id[len(DeletedIDPrefix):]
		default:
			return id
		}
	}
}
