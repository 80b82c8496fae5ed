package mapping

import (
	"fmt"

	"github.com/roach88/syncbook/internal/schema"
)

// Mapping error codes.
const (
	ErrSourceNotFound      = "SOURCE_NOT_FOUND"
	ErrDestinationNotFound = "DESTINATION_NOT_FOUND"
	ErrTypeMismatch        = "TYPE_MISMATCH"
)

// MappingError describes one incompatible field-map pair.
type MappingError struct {
	Code        string `json:"code"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Message     string `json:"message"`
}

// Error implements the error interface.
func (e MappingError) Error() string { return e.Message }

// Validate checks every pair of fm against the two schemas and returns the
// problems in mapping order. A pair whose source or destination path does
// not resolve yields a not-found error and is not type checked. Kind
// equality is the only compatibility criterion; attached transformers are
// not consulted.
func Validate(source, dest *schema.Node, fm FieldMap) []MappingError {
	var errs []MappingError

	for _, e := range fm.Entries() {
		src, srcOK := source.Resolve(e.Source)
		if !srcOK {
			errs = append(errs, MappingError{
				Code:        ErrSourceNotFound,
				Source:      e.Source,
				Destination: e.Destination,
				Message:     fmt.Sprintf("Source field '%s' not found in schema", e.Source),
			})
			continue
		}

		dst, dstOK := dest.Resolve(e.Destination)
		if !dstOK {
			errs = append(errs, MappingError{
				Code:        ErrDestinationNotFound,
				Source:      e.Source,
				Destination: e.Destination,
				Message:     fmt.Sprintf("Destination field '%s' not found in schema", e.Destination),
			})
			continue
		}

		if src.Kind != dst.Kind {
			errs = append(errs, MappingError{
				Code:        ErrTypeMismatch,
				Source:      e.Source,
				Destination: e.Destination,
				Message: fmt.Sprintf(
					"Type mismatch for mapping '%s' -> '%s': Source type '%s' cannot be mapped to Destination type '%s'",
					e.Source, e.Destination, src.Kind, dst.Kind,
				),
			})
		}
	}

	return errs
}

// Blocking filters errs down to the ones that prevent saving a field map or
// planning with it: every not-found error, and type mismatches on pairs
// without a transformer. Mismatches on transformed pairs stay visible in the
// Validate output but are left to the transformer's own contract.
func Blocking(errs []MappingError, fm FieldMap) []MappingError {
	var out []MappingError
	for _, e := range errs {
		if e.Code == ErrTypeMismatch {
			if entry, ok := fm.Get(e.Source); ok && entry.Transformer != nil {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
