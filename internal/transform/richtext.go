package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// applyRichText renders a structured rich-text document (a tree of
// {type, content, text, marks, attrs} nodes) as Markdown. A string that is
// not a JSON document is treated as already-plain text.
func applyRichText(src any) Result {
	switch v := src.(type) {
	case nil:
		return value(nil)
	case string:
		var doc map[string]any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return value(norm.NFC.String(v))
		}
		src = doc
	}

	doc, ok := src.(map[string]any)
	if !ok {
		return fail("rich text must be a document object, got %T", src)
	}
	out, err := renderBlock(doc)
	if err != nil {
		return fail("render rich text: %v", err)
	}
	return value(norm.NFC.String(strings.TrimRight(out, "\n")))
}

func nodeType(n map[string]any) string {
	t, _ := n["type"].(string)
	return t
}

func children(n map[string]any) ([]map[string]any, error) {
	raw, ok := n["content"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: content must be a list", nodeType(n))
	}
	out := make([]map[string]any, 0, len(list))
	for i, c := range list {
		m, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: content[%d] is not a node", nodeType(n), i)
		}
		out = append(out, m)
	}
	return out, nil
}

func attr(n map[string]any, key string) any {
	attrs, _ := n["attrs"].(map[string]any)
	return attrs[key]
}

func intAttr(n map[string]any, key string, def int) int {
	switch v := attr(n, key).(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func renderBlocks(nodes []map[string]any, sep string) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, c := range nodes {
		s, err := renderBlock(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, sep), nil
}

func renderBlock(n map[string]any) (string, error) {
	kids, err := children(n)
	if err != nil {
		return "", err
	}

	switch nodeType(n) {
	case "doc":
		return renderBlocks(kids, "\n\n")
	case "paragraph":
		return renderInline(kids)
	case "heading":
		level := intAttr(n, "level", 1)
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		text, err := renderInline(kids)
		if err != nil {
			return "", err
		}
		return strings.Repeat("#", level) + " " + text, nil
	case "blockquote":
		inner, err := renderBlocks(kids, "\n\n")
		if err != nil {
			return "", err
		}
		return prefixLines(inner, "> ", "> "), nil
	case "bulletList":
		return renderList(kids, func(int) string { return "- " })
	case "orderedList":
		start := intAttr(n, "start", 1)
		return renderList(kids, func(i int) string { return strconv.Itoa(start+i) + ". " })
	case "listItem":
		return renderBlocks(kids, "\n")
	case "codeBlock":
		lang, _ := attr(n, "language").(string)
		text, err := plainText(kids)
		if err != nil {
			return "", err
		}
		return "```" + lang + "\n" + text + "\n```", nil
	case "horizontalRule":
		return "---", nil
	case "text", "hardBreak", "image":
		return renderInline([]map[string]any{n})
	default:
		return renderBlocks(kids, "\n\n")
	}
}

func renderList(items []map[string]any, marker func(int) string) (string, error) {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		body, err := renderBlock(item)
		if err != nil {
			return "", err
		}
		m := marker(i)
		lines = append(lines, prefixLines(body, m, strings.Repeat(" ", len(m))))
	}
	return strings.Join(lines, "\n"), nil
}

func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		p := rest
		if i == 0 {
			p = first
		}
		if l == "" && i > 0 {
			lines[i] = strings.TrimRight(p, " ")
			continue
		}
		lines[i] = p + l
	}
	return strings.Join(lines, "\n")
}

func plainText(nodes []map[string]any) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		if t, ok := n["text"].(string); ok {
			b.WriteString(t)
		}
		kids, err := children(n)
		if err != nil {
			return "", err
		}
		s, err := plainText(kids)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func renderInline(nodes []map[string]any) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		switch nodeType(n) {
		case "text":
			text, _ := n["text"].(string)
			marked, err := applyMarks(text, n["marks"])
			if err != nil {
				return "", err
			}
			b.WriteString(marked)
		case "hardBreak":
			b.WriteString("  \n")
		case "image":
			src, _ := attr(n, "src").(string)
			alt, _ := attr(n, "alt").(string)
			b.WriteString("![" + alt + "](" + src + ")")
		default:
			kids, err := children(n)
			if err != nil {
				return "", err
			}
			s, err := renderInline(kids)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

func applyMarks(text string, raw any) (string, error) {
	if raw == nil {
		return text, nil
	}
	marks, ok := raw.([]any)
	if !ok {
		return "", fmt.Errorf("marks must be a list")
	}
	for _, m := range marks {
		mark, ok := m.(map[string]any)
		if !ok {
			return "", fmt.Errorf("mark is not an object")
		}
		switch nodeType(mark) {
		case "bold", "strong":
			text = "**" + text + "**"
		case "italic", "em":
			text = "_" + text + "_"
		case "code":
			text = "`" + text + "`"
		case "strike":
			text = "~~" + text + "~~"
		case "link":
			href, _ := attr(mark, "href").(string)
			text = "[" + text + "](" + href + ")"
		}
	}
	return text, nil
}
