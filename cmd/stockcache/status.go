package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Evaluate the local snapshot and show recent acquisitions",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Status(cmd.Context(), intraday, statusRuns)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), st)
	}

	w := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session\t%s (market open: %t)\n", st.SessionDate.Format("2006-01-02"), st.MarketOpen)
	if st.LocalFile == "" {
		fmt.Fprintf(tw, "Local\tnone\n")
	} else {
		fmt.Fprintf(tw, "Local\t%s (%d bytes, size ok: %t)\n", st.LocalFile, st.LocalBytes, st.SizeValid)
		if st.LoadError != "" {
			fmt.Fprintf(tw, "Load error\t%s\n", st.LoadError)
		} else {
			fmt.Fprintf(tw, "Symbols\t%d\n", st.LocalSymbols)
			fmt.Fprintf(tw, "Fresh / stale\t%d / %d\n", st.Verdict.FreshCount, st.Verdict.StaleCount)
			if !st.Verdict.NewestBarDate.IsZero() {
				fmt.Fprintf(tw, "Newest bar\t%s\n", st.Verdict.NewestBarDate.In(a.Calendar.Location()).Format("2006-01-02 15:04"))
			}
		}
	}
	tw.Flush()

	if len(st.RecentRuns) > 0 {
		if st.RanRecently {
			fmt.Fprintln(w, "\nRecent runs:")
		} else {
			fmt.Fprintln(w, "\nRecent runs (none in the last 24h):")
		}
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tSESSION\tFRESH\tSTALE\tUNRESOLVED\tLIVE\tBACKFILL")
		for _, r := range st.RecentRuns {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%t\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.SessionDate.Format("2006-01-02"),
				r.FreshCount, r.StaleCount, r.Unresolved, r.LiveFetched, r.BackfillAttempted)
		}
		tw.Flush()
	}
	return nil
}
