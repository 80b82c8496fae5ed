package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FromJSONSchema decodes the JSON Schema subset that connectors report for
// their collections: type (string or list), properties (order preserved),
// required, items, anyOf/oneOf and the OpenAPI nullable flag.
// "integer" maps to number.
func FromJSONSchema(data []byte) (*Node, error) {
	n, err := decodeJSONSchema(json.RawMessage(data), "$")
	if err != nil {
		return nil, fmt.Errorf("decode json schema: %w", err)
	}
	return n, nil
}

func decodeJSONSchema(raw json.RawMessage, at string) (*Node, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", at, err)
	}

	n, err := decodeJSONSchemaBody(doc, at)
	if err != nil {
		return nil, err
	}

	if nullable, ok := doc["nullable"]; ok && string(bytes.TrimSpace(nullable)) == "true" && n.Kind != KindUnion {
		n = Nullable(n)
	}
	return n, nil
}

func decodeJSONSchemaBody(doc map[string]json.RawMessage, at string) (*Node, error) {
	for _, key := range []string{"anyOf", "oneOf"} {
		rawVariants, ok := doc[key]
		if !ok {
			continue
		}
		var variants []json.RawMessage
		if err := json.Unmarshal(rawVariants, &variants); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", at, key, err)
		}
		u := &Node{Kind: KindUnion}
		for i, v := range variants {
			vn, err := decodeJSONSchema(v, fmt.Sprintf("%s.%s[%d]", at, key, i))
			if err != nil {
				return nil, err
			}
			u.Variants = append(u.Variants, vn)
		}
		return u, nil
	}

	types, err := schemaTypes(doc["type"])
	if err != nil {
		return nil, fmt.Errorf("%s.type: %w", at, err)
	}
	if len(types) == 0 {
		if _, ok := doc["properties"]; ok {
			types = []string{"object"}
		} else {
			return nil, fmt.Errorf("%s: missing type", at)
		}
	}

	if len(types) == 1 {
		return decodeTyped(types[0], doc, at)
	}

	u := &Node{Kind: KindUnion}
	for _, t := range types {
		vn, err := decodeTyped(t, doc, at)
		if err != nil {
			return nil, err
		}
		u.Variants = append(u.Variants, vn)
	}
	return u, nil
}

func schemaTypes(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

func decodeTyped(t string, doc map[string]json.RawMessage, at string) (*Node, error) {
	switch t {
	case "string":
		return String(), nil
	case "number", "integer":
		return Number(), nil
	case "boolean":
		return Boolean(), nil
	case "null":
		return Null(), nil
	case "array":
		items, ok := doc["items"]
		if !ok {
			return nil, fmt.Errorf("%s: array without items", at)
		}
		in, err := decodeJSONSchema(items, at+"[]")
		if err != nil {
			return nil, err
		}
		return Array(in), nil
	case "object":
		return decodeObject(doc, at)
	default:
		return nil, fmt.Errorf("%s: unsupported type %q", at, t)
	}
}

func decodeObject(doc map[string]json.RawMessage, at string) (*Node, error) {
	required := map[string]bool{}
	if raw, ok := doc["required"]; ok {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, fmt.Errorf("%s.required: %w", at, err)
		}
		for _, name := range names {
			required[name] = true
		}
	}

	obj := Object()
	raw, ok := doc["properties"]
	if !ok {
		return obj, nil
	}
	props, err := orderedMembers(raw)
	if err != nil {
		return nil, fmt.Errorf("%s.properties: %w", at, err)
	}
	for _, p := range props {
		child, err := decodeJSONSchema(p.value, at+"."+p.key)
		if err != nil {
			return nil, err
		}
		obj.Fields = append(obj.Fields, Field{Name: p.key, Optional: !required[p.key], Node: child})
	}
	return obj, nil
}

type member struct {
	key   string
	value json.RawMessage
}

// orderedMembers returns the members of a JSON object in document order.
func orderedMembers(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}
	var out []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("member %q: %w", key, err)
		}
		out = append(out, member{key: key, value: value})
	}
	return out, nil
}
