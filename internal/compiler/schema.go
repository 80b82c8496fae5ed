package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/syncbook/internal/schema"
)

// CompileSchema converts a CUE value describing a record shape into a
// schema node. The value is normally a struct:
//
//	people: {
//		name:     string
//		age?:     number
//		nickname: string | null
//		tags:     [...string]
//		address: city: string
//	}
//
// Optional fields (name?) become optional schema fields, "| null"
// disjunctions become nullable unions and int, float and number all map to
// the number kind.
func CompileSchema(v cue.Value) (*schema.Node, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	n, err := compileNode(v, "$")
	if err != nil {
		return nil, err
	}
	if err := n.Check(); err != nil {
		return nil, &CompileError{Field: "schema", Message: err.Error(), Pos: v.Pos()}
	}
	return n, nil
}

func compileNode(v cue.Value, at string) (*schema.Node, error) {
	k := v.IncompleteKind()
	nullable := k&cue.NullKind != 0 && k != cue.NullKind
	k &^= cue.NullKind

	var n *schema.Node
	var err error
	switch k {
	case cue.StringKind, cue.BytesKind:
		n = schema.String()
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		n = schema.Number()
	case cue.BoolKind:
		n = schema.Boolean()
	case cue.ListKind:
		n, err = compileList(v, at)
	case cue.StructKind:
		n, err = compileStruct(v, at)
	case cue.BottomKind:
		if v.IncompleteKind() == cue.NullKind {
			return schema.Null(), nil
		}
		return nil, &CompileError{Field: at, Message: "value has no type", Pos: v.Pos()}
	default:
		n, err = compileDisjunction(v, at)
	}
	if err != nil {
		return nil, err
	}
	if nullable && n.Kind != schema.KindUnion {
		n = schema.Nullable(n)
	}
	return n, nil
}

func compileStruct(v cue.Value, at string) (*schema.Node, error) {
	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}

	obj := schema.Object()
	for iter.Next() {
		name := iter.Label()
		child, err := compileNode(iter.Value(), at+"."+name)
		if err != nil {
			return nil, err
		}
		obj.Fields = append(obj.Fields, schema.Field{
			Name:     name,
			Optional: iter.IsOptional(),
			Node:     child,
		})
	}
	return obj, nil
}

func compileList(v cue.Value, at string) (*schema.Node, error) {
	elem := v.LookupPath(cue.MakePath(cue.AnyIndex))
	if !elem.Exists() {
		// Closed concrete lists carry their element type on the members.
		first := v.LookupPath(cue.MakePath(cue.Index(0)))
		if !first.Exists() {
			return nil, &CompileError{
				Field:   at,
				Message: "list element type must be declared, e.g. [...string]",
				Pos:     v.Pos(),
			}
		}
		elem = first
	}
	items, err := compileNode(elem, at+"[]")
	if err != nil {
		return nil, err
	}
	return schema.Array(items), nil
}

func compileDisjunction(v cue.Value, at string) (*schema.Node, error) {
	op, args := v.Expr()
	if op != cue.OrOp {
		return nil, &CompileError{
			Field:   at,
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	u := schema.Union()
	hasNull := false
	for _, arg := range args {
		if arg.IncompleteKind() == cue.NullKind {
			hasNull = true
			continue
		}
		n, err := compileNode(arg, at)
		if err != nil {
			return nil, err
		}
		u.Variants = append(u.Variants, n)
	}
	if hasNull {
		u.Variants = append(u.Variants, schema.Null())
	}
	if len(u.Variants) == 1 {
		return u.Variants[0], nil
	}
	return u, nil
}
