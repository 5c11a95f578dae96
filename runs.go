package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSTATUS\tDURATION\tSUMMARY")

			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.StartedAt.UTC().Format(time.RFC3339),
					r.Status,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
					r.Summary)
			}

			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 for all)")

	return cmd
}
