package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/syncbook/internal/engine"
	"github.com/roach88/syncbook/internal/ir"
)

// ScopeOptions holds the flags that select what a pipeline covers.
type ScopeOptions struct {
	Folders    []string
	PathPrefix string
	Where      string
	Branch     string
}

func (o *ScopeOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.Folders, "folder", nil, "limit to folder ids (repeatable)")
	cmd.Flags().StringVar(&o.PathPrefix, "prefix", "", "limit to files under this path")
	cmd.Flags().StringVar(&o.Where, "where", "", "filter expression over record fields")
	cmd.Flags().StringVar(&o.Branch, "branch", "", "branch for reference resolution")
}

func (o *ScopeOptions) scope() ir.Scope {
	return ir.Scope{FolderIDs: o.Folders, PathPrefix: o.PathPrefix, Where: o.Where}
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScopeOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a publish pipeline without running it",
		Long: `Classify every dirty record in scope into edit, create and delete
operations and store them as a planned pipeline.

Examples:
  syncbook plan
  syncbook plan --folder companies
  syncbook plan --where 'record.tier == "gold"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				plan, err := s.engine.PlanPublish(cmd.Context(), s.workbook, opts.scope(), opts.Branch)
				if err != nil {
					return f.fail(ExitCommandError, "plan failed", err)
				}
				return f.Result(plan, func(w io.Writer) {
					printPipeline(w, plan.Pipeline)
					printEntries(w, plan.Entries)
				})
			})
		},
	}
	opts.register(cmd)
	return cmd
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScopeOptions{}
	var pipelineID string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Plan and run a publish pipeline",
		Long: `Plan a pipeline for the scope and run it, or re-run an existing
pipeline with --pipeline. A re-run retries only pending and failed entries.

Exit codes:
  0 - Pipeline completed
  1 - One or more entries failed
  2 - Command error (locked folder, bad scope, etc.)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				ctx := cmd.Context()
				id := pipelineID
				if id == "" {
					plan, err := s.engine.PlanPublish(ctx, s.workbook, opts.scope(), opts.Branch)
					if err != nil {
						return f.fail(ExitCommandError, "plan failed", err)
					}
					id = plan.Pipeline.ID
					f.VerboseLog("planned pipeline %s with %d entries", id, len(plan.Entries))
				}
				p, err := s.engine.RunPublishSync(ctx, s.workbook, id)
				if err != nil {
					return f.fail(ExitCommandError, "publish failed", err)
				}
				entries, err := s.engine.ListPipelineEntries(ctx, s.workbook, id)
				if err != nil {
					return f.fail(ExitCommandError, "failed to list entries", err)
				}
				result := engine.Plan{Pipeline: p, Entries: entries}
				text := func(w io.Writer) {
					printPipeline(w, p)
					printEntries(w, entries)
				}
				if p.Status == ir.PipelineFailed {
					failed := countStatus(entries, ir.EntryFailed)
					msg := fmt.Sprintf("%d entr%s failed", failed, plural(failed, "y", "ies"))
					if err := f.Failure("PIPELINE_FAILED", msg, result, text); err != nil {
						return err
					}
					return NewExitError(ExitFailure, msg)
				}
				return f.Result(result, text)
			})
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "run an existing pipeline instead of planning")
	cmd.MarkFlagsMutuallyExclusive("pipeline", "folder")
	cmd.MarkFlagsMutuallyExclusive("pipeline", "prefix")
	cmd.MarkFlagsMutuallyExclusive("pipeline", "where")
	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <pipeline>",
		Short: "Request cancellation of a pipeline",
		Long: `Mark a pipeline for cancellation. A running pipeline stops before its
next entry; a finished pipeline is left as it is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				requested, err := s.engine.CancelPipeline(cmd.Context(), s.workbook, args[0])
				if err != nil {
					return f.fail(ExitCommandError, "cancel failed", err)
				}
				return f.Result(map[string]any{"pipeline_id": args[0], "cancel_requested": requested}, func(w io.Writer) {
					if requested {
						fmt.Fprintf(w, "cancellation requested for %s\n", args[0])
						return
					}
					fmt.Fprintf(w, "%s already finished\n", args[0])
				})
			})
		},
	}
}

// NewPipelinesCommand creates the pipelines command.
func NewPipelinesCommand(rootOpts *RootOptions) *cobra.Command {
	var folders []string
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List publish pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				list, err := s.engine.ListPipelines(cmd.Context(), s.workbook, ir.Scope{FolderIDs: folders})
				if err != nil {
					return f.fail(ExitCommandError, "failed to list pipelines", err)
				}
				return f.Result(list, func(w io.Writer) {
					if len(list) == 0 {
						fmt.Fprintln(w, "No pipelines.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSTATUS\tFOLDERS\tCREATED")
					for _, p := range list {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Status, strings.Join(p.FolderIDs, ","), p.CreatedAt.UTC().Format(time.RFC3339))
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&folders, "folder", nil, "only pipelines touching these folder ids")
	return cmd
}

// NewEntriesCommand creates the entries command.
func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entries <pipeline>",
		Short: "List the entries of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				p, err := s.engine.GetPipeline(cmd.Context(), s.workbook, args[0])
				if err != nil {
					return f.fail(ExitCommandError, "failed to read pipeline", err)
				}
				entries, err := s.engine.ListPipelineEntries(cmd.Context(), s.workbook, args[0])
				if err != nil {
					return f.fail(ExitCommandError, "failed to list entries", err)
				}
				return f.Result(entries, func(w io.Writer) {
					printPipeline(w, p)
					printEntries(w, entries)
				})
			})
		},
	}
}

func printPipeline(w io.Writer, p ir.PublishPipeline) {
	phases := make([]string, len(p.Phases))
	for i, ph := range p.Phases {
		phases[i] = ph.String()
	}
	fmt.Fprintf(w, "pipeline %s: %s", p.ID, p.Status)
	if len(phases) > 0 {
		fmt.Fprintf(w, " [%s]", strings.Join(phases, " → "))
	}
	fmt.Fprintln(w)
}

func printEntries(w io.Writer, entries []ir.PipelineEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "  nothing to publish")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		note := e.Error
		if note == "" && len(e.Operation.Warnings) > 0 {
			note = "warning: " + strings.Join(e.Operation.Warnings, "; ")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", statusMark(e.Status), e.Phase, e.Operation.Kind, e.FilePath, note)
	}
	tw.Flush()
}

func statusMark(s ir.EntryStatus) string {
	switch s {
	case ir.EntrySuccess:
		return "✓"
	case ir.EntryFailed:
		return "✗"
	default:
		return "·"
	}
}

func countStatus(entries []ir.PipelineEntry, status ir.EntryStatus) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
