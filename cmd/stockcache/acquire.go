package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/models"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire the freshest snapshot for the current session",
	Long: `Runs one acquisition: local snapshot, remote prebuilt snapshot, tick overlay,
per-symbol live fetch and, when most symbols are stale, a remote backfill request.

Examples:
  stockcache acquire --symbols RELIANCE,TCS
  stockcache acquire --intraday --symbols-file nifty50.txt --json`,
	RunE: runAcquire,
}

func init() {
	addSymbolFlags(acquireCmd)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	syms, err := requestedSymbols()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !jsonOutput {
		common.PrintBanner(cmd.ErrOrStderr(), a.Config, a.Logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.Acquire(ctx, syms, intraday)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if res == nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printReport(cmd.OutOrStdout(), res)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, res *models.AcquireResult) {
	r := res.Report
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	states := make([]string, len(r.States))
	for i, s := range r.States {
		states[i] = string(s)
	}

	fmt.Fprintf(tw, "Run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Session\t%s\n", r.SessionDate.Format("2006-01-02"))
	fmt.Fprintf(tw, "States\t%s\n", strings.Join(states, " > "))
	fmt.Fprintf(tw, "Symbols\t%d (source: %s)\n", res.Snapshot.Len(), res.Snapshot.Source)
	fmt.Fprintf(tw, "Fresh / stale\t%d / %d\n", r.Verdict.FreshCount, r.Verdict.StaleCount)
	if r.LocalFile != "" {
		fmt.Fprintf(tw, "Local\t%s (%d symbols)\n", r.LocalFile, r.LocalSymbols)
	}
	if r.RemoteFile != "" {
		fmt.Fprintf(tw, "Remote\t%s (%d adopted)\n", r.RemoteFile, r.RemoteAdopted)
	}
	fmt.Fprintf(tw, "Ticks applied\t%d\n", r.TicksApplied)
	fmt.Fprintf(tw, "Live fetched\t%d (%d failed)\n", r.LiveFetched, r.LiveFailed)
	if r.BackfillAttempted {
		fmt.Fprintf(tw, "Backfill\t%d trading days (accepted: %t)\n", r.MissingTradingDays, r.BackfillAccepted)
	}
	fmt.Fprintf(tw, "Elapsed\t%s\n", r.Elapsed().Round(time.Millisecond))
	tw.Flush()

	if len(res.Unresolved) > 0 {
		fmt.Fprintf(w, "\nUnresolved (%d): %s\n", len(res.Unresolved), strings.Join(res.Unresolved, ", "))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}
