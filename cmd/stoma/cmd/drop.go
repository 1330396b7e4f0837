package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pym-cms/stoma/internal/pipeline"
)

// newDropCmd creates the drop command.
func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop the search index and empty the catalog",
		Long: `Remove every row from the catalog and delete the search index.
The next index run starts from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(func(r *pipeline.Runner) error {
				return r.Drop(cmd.Context())
			})
		},
	}
}
