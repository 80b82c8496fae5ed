package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/transform"
)

const peopleDefs = `
schemas: people: {
	name:     string
	age?:     int
	score:    float
	nickname: string | null
	active:   bool
	tags: [...string]
	address: {
		city: string
		zip?: string
	}
}

fieldmaps: people: {
	name:           "full_name"
	"address.city": "city"
	score: {
		destinationPath: "rating"
		transformer: {type: "string_to_number", stripCurrency: true}
	}
	notes: {
		destinationPath: "body"
		transformer: type: "rich_text_to_markup"
	}
}
`

func compile(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

func TestCompileSchema(t *testing.T) {
	v := compile(t, peopleDefs)

	n, err := CompileSchema(v.LookupPath(cue.ParsePath("schemas.people")))
	require.NoError(t, err)

	want := schema.Object(
		schema.Required("name", schema.String()),
		schema.Optional("age", schema.Number()),
		schema.Required("score", schema.Number()),
		schema.Required("nickname", schema.Nullable(schema.String())),
		schema.Required("active", schema.Boolean()),
		schema.Required("tags", schema.Array(schema.String())),
		schema.Required("address", schema.Object(
			schema.Required("city", schema.String()),
			schema.Optional("zip", schema.String()),
		)),
	)
	assert.Equal(t, want, n)
}

func TestCompileSchema_FeedsValidator(t *testing.T) {
	v := compile(t, `
		src: {name: string, age?: number}
		dst: {full_name: string, years: number}
	`)
	src, err := CompileSchema(v.LookupPath(cue.ParsePath("src")))
	require.NoError(t, err)
	dst, err := CompileSchema(v.LookupPath(cue.ParsePath("dst")))
	require.NoError(t, err)

	errs := mapping.Validate(src, dst, mapping.New(
		mapping.Entry{Source: "name", Destination: "full_name"},
		mapping.Entry{Source: "name", Destination: "years"},
	))
	require.Len(t, errs, 1)
	assert.Equal(t, mapping.ErrTypeMismatch, errs[0].Code)
}

func TestCompileSchema_ListWithoutElementType(t *testing.T) {
	v := compile(t, `s: {tags: []}`)

	_, err := CompileSchema(v.LookupPath(cue.ParsePath("s")))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "$.tags", ce.Field)
	assert.Contains(t, ce.Message, "list element type")
}

func TestCompileSchema_MultiTypeUnion(t *testing.T) {
	v := compile(t, `s: {id: string | int | null}`)

	n, err := CompileSchema(v.LookupPath(cue.ParsePath("s")))
	require.NoError(t, err)

	f, ok := n.Field("id")
	require.True(t, ok)
	assert.Equal(t, schema.KindUnion, f.Node.Kind)
	require.Len(t, f.Node.Variants, 3)
	assert.Equal(t, schema.KindNull, f.Node.Variants[2].Kind)
}

func TestCompileFieldMap(t *testing.T) {
	v := compile(t, peopleDefs)

	fm, err := CompileFieldMap(v.LookupPath(cue.ParsePath("fieldmaps.people")))
	require.NoError(t, err)

	entries := fm.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, mapping.Entry{Source: "name", Destination: "full_name"}, entries[0])
	assert.Equal(t, mapping.Entry{Source: "address.city", Destination: "city"}, entries[1])
	assert.Equal(t, "rating", entries[2].Destination)
	assert.Equal(t, transform.StringToNumber{StripCurrency: true}, entries[2].Transformer)
	assert.Equal(t, transform.RichTextToMarkup{}, entries[3].Transformer)
}

func TestCompileFieldMap_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"not a struct", `m: "x"`, "field map must be a struct"},
		{"missing destination", `m: a: {transformer: type: "rich_text_to_markup"}`, "destinationPath is required"},
		{"empty destination", `m: a: ""`, "destination path is empty"},
		{"bad transformer", `m: a: {destinationPath: "b", transformer: type: "source_fk_to_dest_fk"}`, "referencedFolderId is required"},
		{"unknown transformer", `m: a: {destinationPath: "b", transformer: type: "nope"}`, "unknown type"},
		{"wrong value kind", `m: a: 3`, "expected a destination path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := compile(t, tt.src)
			_, err := CompileFieldMap(v.LookupPath(cue.ParsePath("m")))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileBundle(t *testing.T) {
	b, err := CompileBundle(compile(t, peopleDefs))
	require.NoError(t, err)

	assert.Contains(t, b.Schemas, "people")
	assert.Equal(t, 4, b.FieldMaps["people"].Len())
}

func TestCompileBundle_Empty(t *testing.T) {
	b, err := CompileBundle(compile(t, `other: 1`))
	require.NoError(t, err)
	assert.Empty(t, b.Schemas)
	assert.Empty(t, b.FieldMaps)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.cue")
	require.NoError(t, os.WriteFile(path, []byte(peopleDefs), 0o644))

	b, err := LoadFile(path)
	require.NoError(t, err)
	assert.Contains(t, b.Schemas, "people")
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.cue"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)

	bad := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte("schemas: {"), 0o644))
	_, err = LoadFile(bad)
	require.True(t, errors.As(err, &le))
	assert.NotEqual(t, ErrCodeNotFound, le.Code)

	badMap := filepath.Join(dir, "badmap.cue")
	require.NoError(t, os.WriteFile(badMap, []byte(`fieldmaps: m: a: 3`), 0o644))
	_, err = LoadFile(badMap)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeFieldMap, le.Code)
	assert.Contains(t, le.Message, "field map m")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schemas.cue"), []byte("package defs\n\nschemas: people: {name: string}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps.cue"), []byte("package defs\n\nfieldmaps: people: {name: \"full_name\"}\n"), 0o644))

	b, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Contains(t, b.Schemas, "people")
	assert.Equal(t, 1, b.FieldMaps["people"].Len())
}

func TestLoadDir_NoFiles(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestLoadSchema(t *testing.T) {
	dir := t.TempDir()
	cuePath := filepath.Join(dir, "defs.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte(peopleDefs), 0o644))
	jsonPath := filepath.Join(dir, "dest.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"type": "object",
		"properties": {"full_name": {"type": "string"}, "city": {"type": "string"}},
		"required": ["full_name"]
	}`), 0o644))

	n, err := LoadSchema(cuePath, "people")
	require.NoError(t, err)
	assert.Equal(t, schema.KindObject, n.Kind)

	n, err = LoadSchema(jsonPath, "")
	require.NoError(t, err)
	f, ok := n.Field("city")
	require.True(t, ok)
	assert.True(t, f.Optional)

	_, err = LoadSchema(cuePath, "missing")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)

	_, err = LoadSchema(filepath.Join(dir, "x.yaml"), "")
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeFormat, le.Code)
}
