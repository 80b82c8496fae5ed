package transform

import (
	"context"
	"fmt"
)

// Result is the outcome of applying one transformer to one value.
// Exactly one of the shapes holds: {Value}, {Value, Warning} or {Error}.
type Result struct {
	Value    any       `json:"value"`
	Warning  string    `json:"warning,omitempty"`
	Error    string    `json:"error,omitempty"`
	Deferred *Deferral `json:"deferred,omitempty"`
}

// OK reports whether the transformation produced a usable value.
func (r Result) OK() bool { return r.Error == "" }

// Deferral describes a reference that could not be resolved yet and must be
// retried once its target exists.
type Deferral struct {
	Type       Type   `json:"type"`
	FolderID   string `json:"folder_id"`
	FileName   string `json:"file_name"`
	LookupPath string `json:"lookup_path,omitempty"`
}

// Resolver gives transformers read-only access to referenced files and to
// the correspondence index.
type Resolver interface {
	// RecordID returns the remote identity of a local file.
	RecordID(ctx context.Context, folderID, fileName string) (string, bool, error)
	// FileContent returns the displayed content of a local file.
	FileContent(ctx context.Context, folderID, fileName string) (map[string]any, bool, error)
}

func value(v any) Result { return Result{Value: v} }

func warn(v any, format string, args ...any) Result {
	return Result{Value: v, Warning: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Apply runs cfg against a source value. A nil cfg passes the value through.
func Apply(ctx context.Context, cfg Config, src any, r Resolver) Result {
	switch c := cfg.(type) {
	case nil:
		return value(src)
	case StringToNumber:
		return applyStringToNumber(c, src)
	case SourceFKToDestFK:
		return applyForeignKey(ctx, c, src, r)
	case LookupField:
		return applyLookup(ctx, c, src, r)
	case RichTextToMarkup:
		return applyRichText(src)
	default:
		return fail("unknown transformer %T", cfg)
	}
}
