package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/syncbook/internal/mapping"
)

// FolderValidation is the mapping check of one folder.
type FolderValidation struct {
	Folder   string                 `json:"folder"`
	Path     string                 `json:"path"`
	Valid    bool                   `json:"valid"`
	Skipped  bool                   `json:"skipped,omitempty"`
	Errors   []mapping.MappingError `json:"errors,omitempty"`
	Blocking int                    `json:"blocking"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool               `json:"valid"`
	Folders []FolderValidation `json:"folders"`
}

// NewValidateMappingCommand creates the validate-mapping command.
func NewValidateMappingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-mapping [folder...]",
		Short: "Check field maps against source and destination schemas",
		Long: `Check each folder's field map against its source and destination schemas
without touching the database.

Errors that block planning (missing paths, type mismatches without a
transformer) fail the command with exit code 1. Mismatches on mappings
with a transformer are reported as advisory.

Examples:
  syncbook validate-mapping
  syncbook validate-mapping people --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateMapping(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidateMapping(opts *RootOptions, only []string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to load config", err)
	}
	reg, err := cfg.Connectors()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open connectors", err)
	}
	folders, err := cfg.DataFolders(cmd.Context(), reg)
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to resolve folders", err)
	}

	result := ValidationResult{Valid: true, Folders: []FolderValidation{}}
	for _, f := range folders {
		if len(only) > 0 && !slices.Contains(only, f.ID) {
			continue
		}
		fv := FolderValidation{Folder: f.ID, Path: f.Path, Valid: true}
		if f.SourceSchema == nil || f.DestSchema == nil {
			fv.Skipped = true
			result.Folders = append(result.Folders, fv)
			continue
		}
		fv.Errors = mapping.Validate(f.SourceSchema, f.DestSchema, f.FieldMap)
		fv.Blocking = len(mapping.Blocking(fv.Errors, f.FieldMap))
		fv.Valid = fv.Blocking == 0
		result.Valid = result.Valid && fv.Valid
		formatter.VerboseLog("%s: %d error(s), %d blocking", f.ID, len(fv.Errors), fv.Blocking)
		result.Folders = append(result.Folders, fv)
	}
	for _, id := range only {
		if !slices.ContainsFunc(result.Folders, func(fv FolderValidation) bool { return fv.Folder == id }) {
			return formatter.fail(ExitCommandError, "unknown folder", fmt.Errorf("%s is not declared in the config", id))
		}
	}

	text := func(w io.Writer) {
		for _, fv := range result.Folders {
			switch {
			case fv.Skipped:
				fmt.Fprintf(w, "- %s (no schemas)\n", fv.Path)
			case fv.Valid:
				fmt.Fprintf(w, "✓ %s\n", fv.Path)
			default:
				fmt.Fprintf(w, "✗ %s\n", fv.Path)
			}
			for _, e := range fv.Errors {
				fmt.Fprintf(w, "  %s %s -> %s: %s\n", e.Code, e.Source, e.Destination, e.Message)
			}
		}
	}
	if !result.Valid {
		if err := formatter.Failure("E_INVALID_MAPPING", "field maps have blocking errors", result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "field maps have blocking errors")
	}
	return formatter.Result(result, text)
}
