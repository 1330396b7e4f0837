package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pym-cms/stoma/internal/pipeline"
)

// newInitDBCmd creates the initdb command.
func newInitDBCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Initialise the catalog database",
		Long: `Create the catalog schema and the item table, and stamp the
schema version. Safe to run on an already initialised database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(func(r *pipeline.Runner) error {
				return r.InitDB(cmd.Context())
			})
		},
	}
}
