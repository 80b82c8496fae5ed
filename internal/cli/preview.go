package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/transform"
)

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	var fieldMap string
	cmd := &cobra.Command{
		Use:   "preview <folder> <sample>",
		Short: "Show how a folder's field map transforms a sample file",
		Long: `Apply the folder's field map to one local file and print each
source field with its transformed value. Nothing is written.

Pass --field-map with a JSON field map to preview a candidate mapping
instead of the saved one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				var candidate *mapping.FieldMap
				if fieldMap != "" {
					var fm mapping.FieldMap
					if err := json.Unmarshal([]byte(fieldMap), &fm); err != nil {
						return f.fail(ExitCommandError, "invalid --field-map", err)
					}
					candidate = &fm
				}
				rows, err := s.engine.PreviewTransform(cmd.Context(), s.workbook, args[0], args[1], candidate)
				if err != nil {
					return f.fail(ExitCommandError, "preview failed", err)
				}
				return f.Result(rows, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SOURCE\tVALUE\tDESTINATION\tRESULT\tNOTE")
					for _, r := range rows {
						note := r.Warning
						if r.Error != "" {
							note = "error: " + r.Error
						}
						fmt.Fprintf(tw, "%s\t%v\t%s\t%v\t%s\n", r.SourceField, r.SourceValue, r.DestinationField, r.TransformedValue, note)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&fieldMap, "field-map", "", "candidate field map as JSON")
	return cmd
}

// NewTestTransformerCommand creates the test-transformer command.
func NewTestTransformerCommand(rootOpts *RootOptions) *cobra.Command {
	var transformer string
	cmd := &cobra.Command{
		Use:   "test-transformer <file-path> <json-path>",
		Short: "Run one transformer against a value of a local file",
		Long: `Read the value at json-path from the file at file-path and run the
transformer on it.

Examples:
  syncbook test-transformer crm/companies/acme revenue \
    --transformer '{"type":"string_to_number","stripCurrency":true}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if transformer == "" {
				return NewExitError(ExitCommandError, "--transformer is required")
			}
			return withSession(cmd, rootOpts, func(s *session, f *OutputFormatter) error {
				cfg, err := transform.Unmarshal([]byte(transformer))
				if err != nil {
					return f.fail(ExitCommandError, "invalid --transformer", err)
				}
				trial, err := s.engine.TestTransformer(cmd.Context(), s.workbook, args[0], args[1], cfg)
				if err != nil {
					return f.fail(ExitCommandError, "transformer trial failed", err)
				}
				text := func(w io.Writer) {
					if !trial.Success {
						fmt.Fprintf(w, "✗ %s\n", trial.Error)
						return
					}
					fmt.Fprintf(w, "%v → %v\n", trial.OriginalValue, trial.Value)
					if trial.Warning != "" {
						fmt.Fprintf(w, "warning: %s\n", trial.Warning)
					}
				}
				if !trial.Success {
					if err := f.Failure("TRANSFORM_FAILED", trial.Error, trial, text); err != nil {
						return err
					}
					return NewExitError(ExitFailure, trial.Error)
				}
				return f.Result(trial, text)
			})
		},
	}
	cmd.Flags().StringVar(&transformer, "transformer", "", "transformer config as JSON")
	return cmd
}
