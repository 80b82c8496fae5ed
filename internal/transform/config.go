package transform

import (
	"encoding/json"
	"fmt"
)

// Type names a transformer variant.
type Type string

const (
	TypeStringToNumber   Type = "string_to_number"
	TypeSourceFKToDestFK Type = "source_fk_to_dest_fk"
	TypeLookupField      Type = "lookup_field"
	TypeRichTextToMarkup Type = "rich_text_to_markup"
)

// Config is a transformer configuration. Only the variants declared in this
// package implement it.
type Config interface {
	Type() Type
	sealed()
}

// StringToNumber parses a string into a number.
type StringToNumber struct {
	StripCurrency bool `json:"stripCurrency,omitempty" yaml:"stripCurrency,omitempty"`
	ParseInteger  bool `json:"parseInteger,omitempty" yaml:"parseInteger,omitempty"`
}

// SourceFKToDestFK converts a reference to a local file in
// ReferencedFolderID into the remote identity of that file.
type SourceFKToDestFK struct {
	ReferencedFolderID string `json:"referencedFolderId" yaml:"referencedFolderId"`
}

// LookupField replaces a reference with a field value read from the
// referenced local file.
type LookupField struct {
	ReferencedFolderID  string `json:"referencedFolderId" yaml:"referencedFolderId"`
	ReferencedFieldPath string `json:"referencedFieldPath" yaml:"referencedFieldPath"`
}

// RichTextToMarkup renders a structured rich-text document as Markdown.
type RichTextToMarkup struct{}

func (StringToNumber) Type() Type   { return TypeStringToNumber }
func (SourceFKToDestFK) Type() Type { return TypeSourceFKToDestFK }
func (LookupField) Type() Type      { return TypeLookupField }
func (RichTextToMarkup) Type() Type { return TypeRichTextToMarkup }

func (StringToNumber) sealed()   {}
func (SourceFKToDestFK) sealed() {}
func (LookupField) sealed()      {}
func (RichTextToMarkup) sealed() {}

// IsReference reports whether cfg resolves values through other files.
func IsReference(cfg Config) bool {
	switch cfg.(type) {
	case SourceFKToDestFK, LookupField:
		return true
	}
	return false
}

// Validate checks that the options a variant requires are present.
func Validate(cfg Config) error {
	switch c := cfg.(type) {
	case nil:
		return fmt.Errorf("transformer is nil")
	case StringToNumber, RichTextToMarkup:
		return nil
	case SourceFKToDestFK:
		if c.ReferencedFolderID == "" {
			return fmt.Errorf("%s: referencedFolderId is required", c.Type())
		}
		return nil
	case LookupField:
		if c.ReferencedFolderID == "" {
			return fmt.Errorf("%s: referencedFolderId is required", c.Type())
		}
		if c.ReferencedFieldPath == "" {
			return fmt.Errorf("%s: referencedFieldPath is required", c.Type())
		}
		if _, err := ParsePath(c.ReferencedFieldPath); err != nil {
			return fmt.Errorf("%s: %w", c.Type(), err)
		}
		return nil
	default:
		return fmt.Errorf("unknown transformer %T", cfg)
	}
}

// Marshal encodes cfg as a flat JSON object tagged by "type".
func Marshal(cfg Config) ([]byte, error) {
	if cfg == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal transformer: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal transformer: %w", err)
	}
	fields["type"] = string(cfg.Type())
	return json.Marshal(fields)
}

// Unmarshal decodes a tagged transformer object. A JSON null yields a nil Config.
func Unmarshal(data []byte) (Config, error) {
	if string(data) == "null" || len(data) == 0 {
		return nil, nil
	}
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unmarshal transformer: %w", err)
	}

	var cfg Config
	var err error
	switch head.Type {
	case TypeStringToNumber:
		var c StringToNumber
		err = json.Unmarshal(data, &c)
		cfg = c
	case TypeSourceFKToDestFK:
		var c SourceFKToDestFK
		err = json.Unmarshal(data, &c)
		cfg = c
	case TypeLookupField:
		var c LookupField
		err = json.Unmarshal(data, &c)
		cfg = c
	case TypeRichTextToMarkup:
		cfg = RichTextToMarkup{}
	case "":
		return nil, fmt.Errorf("unmarshal transformer: missing type")
	default:
		return nil, fmt.Errorf("unmarshal transformer: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal transformer %s: %w", head.Type, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal transformer: %w", err)
	}
	return cfg, nil
}

// FromMap decodes a transformer from a generic map such as one read from YAML.
func FromMap(m map[string]any) (Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("transformer options: %w", err)
	}
	return Unmarshal(data)
}
