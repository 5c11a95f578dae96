package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/basesync/basesync/internal/state"
)

// conflictIDPrefixLen is how much of the conflict id table output shows.
// Eight characters is plenty for interactive disambiguation.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List sync conflicts",
		Long: `Display conflicts recorded during sync runs.

By default only unresolved conflicts are shown. Every conflict was already
decided by the configured policy at sync time; this history exists so the
losing side can be recovered by hand.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConflicts(cmd, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved conflicts")

	cmd.AddCommand(newConflictsResolveCmd())

	return cmd
}

func newConflictsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Mark a conflict as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ResolveConflict(cmd.Context(), args[0], time.Now().UTC()); err != nil {
				return err
			}

			fmt.Printf("Conflict %s marked resolved.\n", args[0])

			return nil
		},
	}
}

func runConflicts(cmd *cobra.Command, all bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	conflicts, err := store.ListConflicts(cmd.Context(), all)
	if err != nil {
		return err
	}

	if len(conflicts) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATABASE\tROW\tCOMPONENT\tWINNER\tDETECTED\tRESOLVED")

	for _, c := range conflicts {
		id := c.ID
		if len(id) > conflictIDPrefixLen {
			id = id[:conflictIDPrefixLen]
		}

		resolved := "-"
		if c.ResolvedAt != nil {
			resolved = c.ResolvedAt.UTC().Format(time.RFC3339)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id, c.DatabaseID, c.RowKey, c.Component, c.Winner,
			c.DetectedAt.UTC().Format(time.RFC3339), resolved)
	}

	return w.Flush()
}

// openStore opens the state database for the configured environment.
func openStore() (*state.Store, error) {
	cfg := loadedCfg

	return state.Open(filepath.Join(cfg.RootPath, cfg.Environment, state.FileName), buildLogger())
}
