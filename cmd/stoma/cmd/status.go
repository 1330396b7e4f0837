package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pym-cms/stoma/internal/catalog"
)

// newStatusCmd creates the status command, a per-state row count over the
// catalog. Non-zero in-process counts after a finished run point at an
// aborted worker.
func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog row counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.teardown()

			store, err := catalog.Open(a.cfg.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var counts map[catalog.State]int
			if err := store.WithTx(ctx, func(tx *catalog.Tx) error {
				var err error
				counts, err = tx.CountStates(ctx)
				return err
			}); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			total := 0
			for _, st := range catalog.AllStates {
				if n, ok := counts[st]; ok {
					fmt.Fprintf(w, "%s\t%d\n", st, n)
					total += n
				}
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			return w.Flush()
		},
	}
}
