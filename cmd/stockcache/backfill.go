package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backfillDays int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Dispatch the remote history backfill job",
	Long: `Asks the CI workflow to regenerate the given number of missing trading days.
Requires a GitHub token (STOCKCACHE_GITHUB_TOKEN) and the workflow configured in [clients.github].`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 1, "missing trading days to regenerate")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if backfillDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.Backfill.Trigger(cmd.Context(), backfillDays) {
		return fmt.Errorf("backfill was not accepted (check credentials and workflow configuration)")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backfill dispatched for %d trading days\n", backfillDays)
	return nil
}
