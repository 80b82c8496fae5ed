package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <folder>",
		Short: "Refresh a bound folder from its remote collection",
		Long: `Fetch every record of the folder's remote collection and reconcile it
with the local files.

Unknown records become new files named by their remote id. Files with
staged edits keep them. Files whose remote record is gone are removed,
or reported as conflicts when they carry local edits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				report, err := s.engine.Pull(cmd.Context(), s.workbook, args[0])
				if err != nil {
					return f.fail(ExitCommandError, "pull failed", err)
				}
				return f.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d seen, %d created, %d updated, %d removed\n",
						report.FolderID, report.Seen, report.Created, report.Updated, len(report.Removed))
					for _, p := range report.Removed {
						fmt.Fprintf(w, "  - %s\n", p)
					}
					for _, p := range report.Conflicts {
						fmt.Fprintf(w, "  ! %s (conflict, kept)\n", p)
					}
				})
			})
		},
	}
}
