package transform

import (
	"context"
	"fmt"
	"strconv"
)

// ReferenceName converts a source reference value into a local file name.
func ReferenceName(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	}
	return "", false
}

func applyForeignKey(ctx context.Context, c SourceFKToDestFK, src any, r Resolver) Result {
	if src == nil {
		return value(nil)
	}
	name, ok := ReferenceName(src)
	if !ok {
		return fail("reference value must be a single identifier, got %T", src)
	}
	if r == nil {
		return fail("no resolver available for %s", c.Type())
	}

	id, found, err := r.RecordID(ctx, c.ReferencedFolderID, name)
	if err != nil {
		return fail("resolve reference %q: %v", name, err)
	}
	if !found {
		res := warn(nil, "referenced record %q in folder %q has no remote identity yet", name, c.ReferencedFolderID)
		res.Deferred = &Deferral{Type: c.Type(), FolderID: c.ReferencedFolderID, FileName: name}
		return res
	}
	return value(id)
}

func applyLookup(ctx context.Context, c LookupField, src any, r Resolver) Result {
	if src == nil {
		return value(nil)
	}
	name, ok := ReferenceName(src)
	if !ok {
		return fail("reference value must be a single identifier, got %T", src)
	}
	if r == nil {
		return fail("no resolver available for %s", c.Type())
	}

	content, found, err := r.FileContent(ctx, c.ReferencedFolderID, name)
	if err != nil {
		return fail("read referenced file %q: %v", name, err)
	}
	if !found {
		res := warn(nil, "referenced file %q not found in folder %q", name, c.ReferencedFolderID)
		res.Deferred = &Deferral{
			Type:       c.Type(),
			FolderID:   c.ReferencedFolderID,
			FileName:   name,
			LookupPath: c.ReferencedFieldPath,
		}
		return res
	}

	v, ok, err := Lookup(content, c.ReferencedFieldPath)
	if err != nil {
		return fail("%s: %v", c.Type(), err)
	}
	if !ok {
		return warn(nil, "field %q not found in referenced file %q", c.ReferencedFieldPath, name)
	}
	return value(v)
}

// Describe renders a short human label for a transformer.
func Describe(cfg Config) string {
	switch c := cfg.(type) {
	case nil:
		return ""
	case StringToNumber:
		return fmt.Sprintf("%s(stripCurrency=%t, parseInteger=%t)", c.Type(), c.StripCurrency, c.ParseInteger)
	case SourceFKToDestFK:
		return fmt.Sprintf("%s(%s)", c.Type(), c.ReferencedFolderID)
	case LookupField:
		return fmt.Sprintf("%s(%s:%s)", c.Type(), c.ReferencedFolderID, c.ReferencedFieldPath)
	case RichTextToMarkup:
		return string(c.Type())
	default:
		return fmt.Sprintf("%T", cfg)
	}
}
