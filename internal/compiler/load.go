package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/schema"
)

// Error codes for definition loading.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E002" // Path or definition not found
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E005" // CUE build failed
	ErrCodeSchema      = "E006" // Invalid schema definition
	ErrCodeFieldMap    = "E007" // Invalid field map definition
	ErrCodeFormat      = "E008" // Unsupported file format
)

// LoadError represents an error that occurred while loading definitions.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadFile compiles a single CUE definitions file.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("read %s: %v", path, err)}
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, convertCompileError(formatCUEError(err), ErrCodeBuildFailed, path)
	}
	b, err := CompileBundle(v)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeSchema, path)
	}
	return b, nil
}

// LoadDir builds the CUE package in dir and compiles its definitions.
func LoadDir(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("scan %s: %v", dir, err)}
	}
	if len(matches) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	b, err := CompileBundle(v)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeSchema, dir)
	}
	return b, nil
}

// LoadSchema reads one schema from path. A .json file holds a JSON Schema
// document and name is ignored. A .cue file is compiled and schemas.<name>
// is returned.
func LoadSchema(path, name string) (*schema.Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("read %s: %v", path, err)}
		}
		n, err := schema.FromJSONSchema(data)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("%s: %v", path, err)}
		}
		return n, nil
	case ".cue":
		b, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		n, ok := b.Schemas[name]
		if !ok {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema %q not defined in %s", name, path)}
		}
		return n, nil
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported schema file %s (want .cue or .json)", path)}
	}
}

// LoadFieldMap reads fieldmaps.<name> from a CUE file.
func LoadFieldMap(path, name string) (mapping.FieldMap, error) {
	b, err := LoadFile(path)
	if err != nil {
		return mapping.FieldMap{}, err
	}
	fm, ok := b.FieldMaps[name]
	if !ok {
		return mapping.FieldMap{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("field map %q not defined in %s", name, path)}
	}
	return fm, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, code, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		prefix := strings.TrimSuffix(err.Error(), compileErr.Error())
		switch {
		case compileErr.Field == "cue":
			code = ErrCodeBuildFailed
		case strings.HasPrefix(prefix, "field map"):
			code = ErrCodeFieldMap
		}
		return &LoadError{
			Code:    code,
			Message: prefix + compileErr.Field + ": " + compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
