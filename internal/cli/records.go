package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/syncbook/internal/engine"
	"github.com/roach88/syncbook/internal/ir"
	"github.com/roach88/syncbook/internal/merge"
)

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(s *session, f *OutputFormatter) error) error {
	formatter := newFormatter(cmd, opts)
	s, err := openSession(cmd.Context(), opts)
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open workbook", err)
	}
	defer s.Close()
	return fn(s, formatter)
}

// parseValue reads a field value as JSON, falling back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// printEnvelope renders a file after an edit.
func printEnvelope(s *session, f *OutputFormatter, cmd *cobra.Command, folderID, filename string) error {
	env, err := s.engine.Envelope(cmd.Context(), s.workbook, folderID, filename)
	if err != nil {
		return f.fail(ExitCommandError, "failed to read file", err)
	}
	return f.Result(env, func(w io.Writer) {
		meta, _ := env[ir.FieldMetadata].(map[string]any)
		fmt.Fprintf(w, "%s/%s (%v)\n", meta["folder_path"], filename, meta["id"])
		keys := make([]string, 0, len(env))
		for k := range env {
			if !ir.IsReserved(k) {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		edited, _ := env[ir.FieldEditedFields].([]string)
		suggested, _ := env[ir.FieldSuggestedValues].(map[string]any)
		for _, k := range keys {
			mark := " "
			if slices.Contains(edited, k) {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %s: %v\n", mark, k, env[k])
		}
		for _, k := range edited {
			if _, shown := env[k]; !shown && k != merge.RecordKey {
				fmt.Fprintf(w, "* %s: (deleted)\n", k)
			}
		}
		for _, k := range slices.Sorted(maps.Keys(suggested)) {
			fmt.Fprintf(w, "? %s: %v\n", k, suggested[k])
		}
		if deleted, _ := env[ir.FieldDeleted].(bool); deleted {
			fmt.Fprintln(w, "record staged for deletion")
		}
	})
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var renameReserved bool
	cmd := &cobra.Command{
		Use:   "import <folder> <dir>",
		Short: "Import a directory of JSON files as new local records",
		Long: `Import every *.json file under dir into folder as a locally created record.
Files in subdirectories go to the child folder of the same name.

Existing files are skipped. Reserved field names (__*) are rejected unless
--rename-reserved is set, which prefixes them with user_.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				files, err := engine.ReadImportDir(args[1])
				if err != nil {
					return f.fail(ExitCommandError, "failed to read import directory", err)
				}
				f.VerboseLog("read %d file(s) from %s", len(files), args[1])
				report, err := s.engine.Import(cmd.Context(), s.workbook, args[0], files, engine.ImportOptions{RenameReserved: renameReserved})
				if err != nil {
					return f.fail(ExitCommandError, "import failed", err)
				}
				return f.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d, skipped %d\n", len(report.Imported), len(report.Skipped))
					for _, path := range slices.Sorted(maps.Keys(report.Renamed)) {
						fmt.Fprintf(w, "  renamed in %s: %s\n", path, strings.Join(report.Renamed[path], ", "))
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&renameReserved, "rename-reserved", false, "rename reserved field names instead of rejecting the import")
	return cmd
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		deleteField bool
		unstage     bool
		create      bool
	)
	cmd := &cobra.Command{
		Use:   "edit <folder> <file> <field> [value]",
		Short: "Stage a field edit on a local file",
		Long: `Stage a new value for one top-level field. The value is parsed as JSON
and taken as a string when it is not valid JSON.

  --delete-field stages removal of the field.
  --unstage drops the staged edit.
  --create creates the file with the field when it does not exist.

Examples:
  syncbook edit companies acme name "Acme Corp"
  syncbook edit companies acme employees 120
  syncbook edit companies acme notes --delete-field`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			folderID, filename, field := args[0], args[1], args[2]
			if !deleteField && !unstage && len(args) < 4 {
				return NewExitError(ExitCommandError, "a value is required unless --delete-field or --unstage is set")
			}
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				ctx := cmd.Context()
				var err error
				switch {
				case unstage:
					_, err = s.engine.Unstage(ctx, s.workbook, folderID, filename, field)
				case deleteField:
					_, err = s.engine.StageFieldDelete(ctx, s.workbook, folderID, filename, field)
				case create:
					if _, getErr := s.engine.GetFile(ctx, s.workbook, folderID, filename); engine.IsNotFoundError(getErr) {
						_, err = s.engine.CreateFile(ctx, s.workbook, folderID, filename, map[string]any{field: parseValue(args[3])})
						break
					}
					fallthrough
				default:
					_, err = s.engine.Stage(ctx, s.workbook, folderID, filename, field, parseValue(args[3]))
				}
				if err != nil {
					return f.fail(ExitCommandError, "edit failed", err)
				}
				return printEnvelope(s, f, cmd, folderID, filename)
			})
		},
	}
	cmd.Flags().BoolVar(&deleteField, "delete-field", false, "stage removal of the field")
	cmd.Flags().BoolVar(&unstage, "unstage", false, "drop the staged edit of the field")
	cmd.Flags().BoolVar(&create, "create", false, "create the file if it does not exist")
	return cmd
}

// NewSuggestCommand creates the suggest command.
func NewSuggestCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		deleteField bool
		record      bool
	)
	cmd := &cobra.Command{
		Use:   "suggest <folder> <file> [field] [value]",
		Short: "Propose a field value for review",
		Long: `Record a suggestion without staging it. Suggestions are published only
after accept.

  --delete suggests removing the field.
  --record suggests deleting the whole record.`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			field := ""
			var value any
			switch {
			case record:
				field = merge.RecordKey
			case len(args) >= 3 && (deleteField || len(args) == 4):
				field = args[2]
				if len(args) == 4 {
					value = parseValue(args[3])
				}
			default:
				return NewExitError(ExitCommandError, "suggest needs <field> <value>, <field> --delete, or --record")
			}
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				if _, err := s.engine.Suggest(cmd.Context(), s.workbook, args[0], args[1], field, value, deleteField); err != nil {
					return f.fail(ExitCommandError, "suggest failed", err)
				}
				return printEnvelope(s, f, cmd, args[0], args[1])
			})
		},
	}
	cmd.Flags().BoolVar(&deleteField, "delete", false, "suggest removing the field")
	cmd.Flags().BoolVar(&record, "record", false, "suggest deleting the record")
	return cmd
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	return reviewCommand(rootOpts, "accept", "Stage suggested values", func(e *engine.Engine) reviewFunc { return e.Accept })
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	return reviewCommand(rootOpts, "reject", "Discard suggested values", func(e *engine.Engine) reviewFunc { return e.Reject })
}

type reviewFunc func(ctx context.Context, workbookID, folderID, filename, field string) (merge.State, error)

func reviewCommand(rootOpts *RootOptions, name, short string, pick func(*engine.Engine) reviewFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <folder> <file> [field]",
		Short: short,
		Long:  short + ". Without a field every suggestion of the file is reviewed.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			field := ""
			if len(args) == 3 {
				field = args[2]
			}
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				if _, err := pick(s.engine)(cmd.Context(), s.workbook, args[0], args[1], field); err != nil {
					return f.fail(ExitCommandError, name+" failed", err)
				}
				return printEnvelope(s, f, cmd, args[0], args[1])
			})
		},
	}
}

type discardResult struct {
	FolderID  string `json:"folder_id"`
	Filename  string `json:"filename"`
	Discarded bool   `json:"discarded"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <folder> <file>",
		Short: "Stage deletion of a record",
		Long: `Stage deletion of the whole record. The next publish deletes it remotely;
a record that was never published is discarded locally.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				if _, err := s.engine.DeleteRecord(cmd.Context(), s.workbook, args[0], args[1]); err != nil {
					return f.fail(ExitCommandError, "delete failed", err)
				}
				_, err := s.engine.GetFile(cmd.Context(), s.workbook, args[0], args[1])
				if engine.IsNotFoundError(err) {
					out := discardResult{FolderID: args[0], Filename: args[1], Discarded: true}
					return f.Result(out, func(w io.Writer) {
						fmt.Fprintf(w, "%s/%s: unpublished record discarded\n", args[0], args[1])
					})
				}
				return printEnvelope(s, f, cmd, args[0], args[1])
			})
		},
	}
}
