package schema

import (
	"fmt"
	"strings"
)

// Kind is the primitive kind of a schema node.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindNull    Kind = "null"
	KindUnion   Kind = "union"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindBoolean, KindObject, KindArray, KindNull, KindUnion:
		return true
	}
	return false
}

// Node is a recursive schema description.
type Node struct {
	Kind     Kind    `json:"kind" yaml:"kind"`
	Fields   []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	Items    *Node   `json:"items,omitempty" yaml:"items,omitempty"`
	Variants []*Node `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// Field is a named child of an object node.
// Optional marks a field that may be absent from a record.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Node     *Node  `json:"node" yaml:"node"`
}

// String returns a string node.
func String() *Node { return &Node{Kind: KindString} }

// Number returns a number node.
func Number() *Node { return &Node{Kind: KindNumber} }

// Boolean returns a boolean node.
func Boolean() *Node { return &Node{Kind: KindBoolean} }

// Null returns the null node.
func Null() *Node { return &Node{Kind: KindNull} }

// Array returns an array node holding items.
func Array(items *Node) *Node { return &Node{Kind: KindArray, Items: items} }

// Object returns an object node with the given fields in order.
func Object(fields ...Field) *Node { return &Node{Kind: KindObject, Fields: fields} }

// Nullable wraps n in a union with null.
func Nullable(n *Node) *Node {
	return &Node{Kind: KindUnion, Variants: []*Node{n, Null()}}
}

// Union returns a union of the given variants.
func Union(variants ...*Node) *Node {
	return &Node{Kind: KindUnion, Variants: variants}
}

// Required returns a required field.
func Required(name string, n *Node) Field { return Field{Name: name, Node: n} }

// Optional returns a field that may be absent.
func Optional(name string, n *Node) Field { return Field{Name: name, Optional: true, Node: n} }

// Field looks up a direct child field by name.
func (n *Node) Field(name string) (Field, bool) {
	if n == nil {
		return Field{}, false
	}
	for _, f := range n.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Unwrap strips union wrappers by discarding null variants and continuing
// with the first remaining variant. A union with only null variants unwraps
// to null. Multi-type unions resolve to their first non-null variant.
func Unwrap(n *Node) *Node {
	for n != nil && n.Kind == KindUnion {
		var next *Node
		for _, v := range n.Variants {
			if v != nil && v.Kind != KindNull {
				next = v
				break
			}
		}
		if next == nil {
			return Null()
		}
		n = next
	}
	return n
}

// Resolve walks a dot-separated path through object nodes, unwrapping
// unions at every step. It returns the unwrapped node at the end of the path.
func (n *Node) Resolve(path string) (*Node, bool) {
	if n == nil || path == "" {
		return nil, false
	}
	cur := n
	for _, seg := range strings.Split(path, ".") {
		cur = Unwrap(cur)
		if cur == nil || cur.Kind != KindObject || seg == "" {
			return nil, false
		}
		f, ok := cur.Field(seg)
		if !ok || f.Node == nil {
			return nil, false
		}
		cur = f.Node
	}
	cur = Unwrap(cur)
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Paths lists every addressable leaf and object path in declaration order.
func (n *Node) Paths() []string {
	var out []string
	var walk func(prefix string, node *Node)
	walk = func(prefix string, node *Node) {
		node = Unwrap(node)
		if node == nil || node.Kind != KindObject {
			return
		}
		for _, f := range node.Fields {
			p := f.Name
			if prefix != "" {
				p = prefix + "." + f.Name
			}
			out = append(out, p)
			walk(p, f.Node)
		}
	}
	walk("", n)
	return out
}

// Check verifies the structural invariants of a schema tree.
func (n *Node) Check() error {
	return check(n, "$")
}

func check(n *Node, at string) error {
	if n == nil {
		return fmt.Errorf("%s: nil schema node", at)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%s: unknown kind %q", at, n.Kind)
	}
	switch n.Kind {
	case KindObject:
		seen := make(map[string]bool, len(n.Fields))
		for _, f := range n.Fields {
			if f.Name == "" {
				return fmt.Errorf("%s: field with empty name", at)
			}
			if seen[f.Name] {
				return fmt.Errorf("%s: duplicate field %q", at, f.Name)
			}
			seen[f.Name] = true
			if err := check(f.Node, at+"."+f.Name); err != nil {
				return err
			}
		}
	case KindArray:
		if n.Items == nil {
			return fmt.Errorf("%s: array without item schema", at)
		}
		return check(n.Items, at+"[]")
	case KindUnion:
		nonNull := 0
		for i, v := range n.Variants {
			if err := check(v, fmt.Sprintf("%s|%d", at, i)); err != nil {
				return err
			}
			if v.Kind != KindNull {
				nonNull++
			}
		}
		if nonNull == 0 {
			return fmt.Errorf("%s: union without a non-null variant", at)
		}
	}
	return nil
}
