package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewIndexCommand creates the index command group.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the file and reference indexes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "files",
		Short: "List local files with a known remote identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				entries, err := s.engine.ListFileIndex(cmd.Context(), s.workbook)
				if err != nil {
					return f.fail(ExitCommandError, "failed to read file index", err)
				}
				return f.Result(entries, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "FILE\tREMOTE ID\tLAST SEEN")
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", e.FilePath(), e.RemoteRecordID, e.LastSeenAt.UTC().Format(time.RFC3339))
					}
					tw.Flush()
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refs",
		Short: "List cross-folder references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				refs, err := s.engine.ListRefIndex(cmd.Context(), s.workbook)
				if err != nil {
					return f.fail(ExitCommandError, "failed to read reference index", err)
				}
				return f.Result(refs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SOURCE\tFIELD\tTARGET\tREMOTE ID")
					for _, r := range refs {
						target := r.TargetFolderPath
						if r.TargetFileName != "" {
							target += "/" + r.TargetFileName
						}
						remote := r.TargetRecordID
						if remote == "" {
							remote = "(unresolved)"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.SourceFilePath, r.SourceField, target, remote)
					}
					tw.Flush()
				})
			})
		},
	})
	return cmd
}

// NewMoveFolderCommand creates the move-folder command.
func NewMoveFolderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move-folder <folder> [parent]",
		Short: "Reparent a folder",
		Long: `Move a folder under a new parent, or to the top level when no parent
is given. Paths of the folder and its descendants are rewritten together
with their index entries.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := ""
			if len(args) == 2 {
				parent = args[1]
			}
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				moved, err := s.engine.MoveFolder(cmd.Context(), s.workbook, args[0], parent)
				if err != nil {
					return f.fail(ExitCommandError, "move failed", err)
				}
				type placement struct {
					FolderID string `json:"folder_id"`
					ParentID string `json:"parent_id"`
					OldPath  string `json:"old_path"`
					NewPath  string `json:"new_path"`
				}
				out := make([]placement, len(moved))
				for i, p := range moved {
					out[i] = placement(p)
				}
				return f.Result(out, func(w io.Writer) {
					for _, p := range moved {
						fmt.Fprintf(w, "%s: %s → %s\n", p.FolderID, p.OldPath, p.NewPath)
					}
					if len(moved) == 0 {
						fmt.Fprintln(w, "nothing moved")
					}
				})
			})
		},
	}
}
