package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a content path: a map key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// ParsePath parses content paths such as "a.b[0].c". A leading "$" or "$."
// is accepted so JSON-path style input works.
func ParsePath(p string) ([]Segment, error) {
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segs []Segment
	var key strings.Builder
	flush := func() {
		if key.Len() > 0 {
			segs = append(segs, Segment{Key: key.String()})
			key.Reset()
		}
	}

	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '.':
			if key.Len() == 0 && (i == 0 || p[i-1] != ']') {
				return nil, fmt.Errorf("path %q: empty segment at offset %d", p, i)
			}
			flush()
			if i == len(p)-1 {
				return nil, fmt.Errorf("path %q: trailing dot", p)
			}
		case '[':
			flush()
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unclosed index at offset %d", p, i)
			}
			n, err := strconv.Atoi(p[i+1 : i+end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("path %q: invalid index %q", p, p[i+1:i+end])
			}
			segs = append(segs, Segment{Index: n, IsIndex: true})
			i += end
		case ']':
			return nil, fmt.Errorf("path %q: unexpected ] at offset %d", p, i)
		default:
			key.WriteByte(c)
		}
	}
	flush()
	return segs, nil
}

// Lookup reads the value at path inside content.
func Lookup(content any, path string) (any, bool, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, false, err
	}
	v, ok := get(content, segs)
	return v, ok, nil
}

func get(cur any, segs []Segment) (any, bool) {
	for _, s := range segs {
		if s.IsIndex {
			arr, ok := cur.([]any)
			if !ok || s.Index >= len(arr) {
				return nil, false
			}
			cur = arr[s.Index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[s.Key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetDotted writes value at a dot-separated path, creating intermediate
// objects. It is used to materialize destination payloads.
func SetDotted(dst map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := dst
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// GetDotted reads a dot-separated path through nested objects.
func GetDotted(src map[string]any, path string) (any, bool) {
	var cur any = src
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
