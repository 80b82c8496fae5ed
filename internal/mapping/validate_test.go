package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/schema"
	"github.com/roach88/syncbook/internal/transform"
)

func sourceSchema() *schema.Node {
	return schema.Object(
		schema.Required("name", schema.String()),
		schema.Required("age", schema.Number()),
		schema.Optional("nickname", schema.String()),
		schema.Required("bio", schema.Nullable(schema.String())),
		schema.Required("price", schema.String()),
		schema.Required("address", schema.Object(
			schema.Required("city", schema.String()),
		)),
	)
}

func destSchema() *schema.Node {
	return schema.Object(
		schema.Required("fullName", schema.String()),
		schema.Required("years", schema.Number()),
		schema.Required("alias", schema.String()),
		schema.Optional("about", schema.Nullable(schema.String())),
		schema.Required("amount", schema.Number()),
		schema.Required("location", schema.Object(
			schema.Required("city", schema.String()),
		)),
	)
}

func TestValidate_CompatibleMappings(t *testing.T) {
	fm := New(
		Entry{Source: "name", Destination: "fullName"},
		Entry{Source: "age", Destination: "years"},
		Entry{Source: "address.city", Destination: "location.city"},
		Entry{Source: "address", Destination: "location"},
	)
	assert.Empty(t, Validate(sourceSchema(), destSchema(), fm))
}

func TestValidate_TypeMismatch(t *testing.T) {
	fm := New(Entry{Source: "name", Destination: "years"})

	errs := Validate(sourceSchema(), destSchema(), fm)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrTypeMismatch, errs[0].Code)
	assert.Equal(t,
		"Type mismatch for mapping 'name' -> 'years': Source type 'string' cannot be mapped to Destination type 'number'",
		errs[0].Message,
	)
}

func TestValidate_UnresolvablePathsAreIndependent(t *testing.T) {
	fm := New(
		Entry{Source: "nonExistent", Destination: "fullName"},
		Entry{Source: "name", Destination: "missingDest"},
	)

	errs := Validate(sourceSchema(), destSchema(), fm)
	require.Len(t, errs, 2)
	assert.Equal(t, "Source field 'nonExistent' not found in schema", errs[0].Message)
	assert.Equal(t, "Destination field 'missingDest' not found in schema", errs[1].Message)
}

func TestValidate_OptionalAndNullableUnwrap(t *testing.T) {
	fm := New(
		Entry{Source: "nickname", Destination: "alias"},
		Entry{Source: "bio", Destination: "about"},
	)
	assert.Empty(t, Validate(sourceSchema(), destSchema(), fm))
}

func TestValidate_OrderFollowsMapping(t *testing.T) {
	fm := New(
		Entry{Source: "age", Destination: "fullName"},
		Entry{Source: "zzz", Destination: "years"},
		Entry{Source: "name", Destination: "amount"},
	)
	errs := Validate(sourceSchema(), destSchema(), fm)
	require.Len(t, errs, 3)
	assert.Equal(t, []string{"age", "zzz", "name"}, []string{errs[0].Source, errs[1].Source, errs[2].Source})
}

func TestValidate_TransformerDoesNotSuppressMismatch(t *testing.T) {
	fm := New(Entry{
		Source:      "price",
		Destination: "amount",
		Transformer: transform.StringToNumber{StripCurrency: true},
	})

	errs := Validate(sourceSchema(), destSchema(), fm)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrTypeMismatch, errs[0].Code)

	assert.Empty(t, Blocking(errs, fm))
}

func TestBlocking_KeepsPlainMismatchAndNotFound(t *testing.T) {
	fm := New(
		Entry{Source: "name", Destination: "years"},
		Entry{Source: "ghost", Destination: "fullName", Transformer: transform.RichTextToMarkup{}},
	)
	errs := Validate(sourceSchema(), destSchema(), fm)
	assert.Len(t, Blocking(errs, fm), 2)
}
