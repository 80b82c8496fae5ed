package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/syncbook/internal/ir"
)

// scopeEnv is the environment a where expression is checked against.
// record is the displayed content of the local file.
func scopeEnv(record map[string]any, folderPath, filename string) map[string]any {
	if record == nil {
		record = map[string]any{}
	}
	return map[string]any{
		"record": record,
		"folder": folderPath,
		"file":   filename,
		"path":   ir.JoinPath(folderPath, filename),
	}
}

// ScopeFilter decides which folders and records a publish covers.
//
// An empty scope covers every bound folder in the workbook. Where is an
// expr-lang boolean over record, folder, file and path, e.g.
//
//	record.status == "ready" && folder startsWith "crm"
type ScopeFilter struct {
	scope   ir.Scope
	program *vm.Program
}

// CompileScope validates a scope and compiles its where expression.
func CompileScope(scope ir.Scope) (*ScopeFilter, error) {
	f := &ScopeFilter{scope: scope}
	if strings.TrimSpace(scope.Where) == "" {
		return f, nil
	}
	program, err := expr.Compile(scope.Where,
		expr.Env(scopeEnv(nil, "", "")),
		expr.AsBool(),
		expr.Function("LOWER", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("LOWER requires 1 argument")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("LOWER argument must be string")
			}
			return strings.ToLower(s), nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("compile scope where %q: %w", scope.Where, err)
	}
	f.program = program
	return f, nil
}

// Scope returns the scope the filter was compiled from.
func (f *ScopeFilter) Scope() ir.Scope { return f.scope }

// MatchFolder reports whether a folder is selected by id.
func (f *ScopeFilter) MatchFolder(folderID string) bool {
	return len(f.scope.FolderIDs) == 0 || slices.Contains(f.scope.FolderIDs, folderID)
}

// MatchRecord reports whether a record passes the path prefix and where
// expression. An expression that fails at runtime, for example by comparing
// a missing field, yields an error rather than a silent miss.
func (f *ScopeFilter) MatchRecord(folderPath, filename string, record map[string]any) (bool, error) {
	if p := f.scope.PathPrefix; p != "" && !hasPathPrefix(ir.JoinPath(folderPath, filename), p) {
		return false, nil
	}
	if f.program == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, scopeEnv(record, folderPath, filename))
	if err != nil {
		return false, fmt.Errorf("scope where on %s: %w", ir.JoinPath(folderPath, filename), err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// hasPathPrefix matches whole path segments, so "crm" covers "crm/a.json"
// but not "crmx/a.json".
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
