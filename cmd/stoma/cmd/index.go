package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pym-cms/stoma/internal/pipeline"
)

// newIndexCmd creates the index command.
func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index START_DIR",
		Short: "Index a filesystem tree",
		Long: `Run the full pipeline over START_DIR: reconcile the filesystem
with the catalog, analyse changed files via the extraction service, and
publish the results into the search index. Only changed files do work;
an unchanged tree is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startDir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return a.withRunner(func(r *pipeline.Runner) error {
				return r.Index(cmd.Context(), startDir)
			})
		},
	}
}
