package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/transform"
)

// CompileFieldMap converts a CUE struct into an ordered field map. Each
// field is either a destination path string or a struct carrying
// destinationPath and an optional transformer:
//
//	people: {
//		name:  "full_name"
//		price: {
//			destinationPath: "amount"
//			transformer: {type: "string_to_number", stripCurrency: true}
//		}
//	}
//
// Source paths may be dotted; use quoted labels ("address.city": "city").
func CompileFieldMap(v cue.Value) (mapping.FieldMap, error) {
	if err := v.Err(); err != nil {
		return mapping.FieldMap{}, formatCUEError(err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return mapping.FieldMap{}, &CompileError{
			Field:   "fieldmap",
			Message: "field map must be a struct",
			Pos:     v.Pos(),
		}
	}

	iter, err := v.Fields()
	if err != nil {
		return mapping.FieldMap{}, formatCUEError(err)
	}

	var fm mapping.FieldMap
	for iter.Next() {
		source := iter.Label()
		e, err := compileEntry(source, iter.Value())
		if err != nil {
			return mapping.FieldMap{}, err
		}
		fm.Set(e)
	}
	return fm, nil
}

func compileEntry(source string, v cue.Value) (mapping.Entry, error) {
	if dest, err := v.String(); err == nil {
		if dest == "" {
			return mapping.Entry{}, &CompileError{Field: source, Message: "destination path is empty", Pos: v.Pos()}
		}
		return mapping.Entry{Source: source, Destination: dest}, nil
	}

	if v.IncompleteKind() != cue.StructKind {
		return mapping.Entry{}, &CompileError{
			Field:   source,
			Message: "expected a destination path or {destinationPath, transformer}",
			Pos:     v.Pos(),
		}
	}

	destVal := v.LookupPath(cue.ParsePath("destinationPath"))
	if !destVal.Exists() {
		return mapping.Entry{}, &CompileError{Field: source, Message: "destinationPath is required", Pos: v.Pos()}
	}
	dest, err := destVal.String()
	if err != nil {
		return mapping.Entry{}, formatCUEError(err)
	}
	e := mapping.Entry{Source: source, Destination: dest}

	tVal := v.LookupPath(cue.ParsePath("transformer"))
	if tVal.Exists() {
		var opts map[string]any
		if err := tVal.Decode(&opts); err != nil {
			return mapping.Entry{}, formatCUEError(err)
		}
		cfg, err := transform.FromMap(opts)
		if err != nil {
			return mapping.Entry{}, &CompileError{
				Field:   source + ".transformer",
				Message: err.Error(),
				Pos:     tVal.Pos(),
			}
		}
		e.Transformer = cfg
	}
	return e, nil
}

// Bundle is the compiled content of one definitions file.
type Bundle struct {
	Schemas   map[string]*schema.Node
	FieldMaps map[string]mapping.FieldMap
}

// CompileBundle reads the top-level "schemas" and "fieldmaps" structs.
// Both are optional.
func CompileBundle(v cue.Value) (*Bundle, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	b := &Bundle{
		Schemas:   make(map[string]*schema.Node),
		FieldMaps: make(map[string]mapping.FieldMap),
	}

	if sv := v.LookupPath(cue.ParsePath("schemas")); sv.Exists() {
		iter, err := sv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			n, err := CompileSchema(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("schema %s: %w", iter.Label(), err)
			}
			b.Schemas[iter.Label()] = n
		}
	}

	if fv := v.LookupPath(cue.ParsePath("fieldmaps")); fv.Exists() {
		iter, err := fv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			fm, err := CompileFieldMap(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("field map %s: %w", iter.Label(), err)
			}
			b.FieldMaps[iter.Label()] = fm
		}
	}
	return b, nil
}
