package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/stockcache/internal/common"
)

var watchCron string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-acquire snapshots on a cron schedule",
	Long: `Runs acquisitions on a cron schedule with a leading seconds field, evaluated in
the exchange timezone. Ctrl+C stops the scheduler after the running acquisition finishes.

Examples:
  stockcache watch
  stockcache watch --cron "0 */5 9-15 * * 1-5" --intraday`,
	RunE: runWatch,
}

func init() {
	addSymbolFlags(watchCmd)
	watchCmd.Flags().StringVar(&watchCron, "cron", "", "cron schedule (default from [scheduler] config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	syms, err := requestedSymbols()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	common.PrintBanner(cmd.ErrOrStderr(), a.Config, a.Logger)

	if err := a.StartScheduler(watchCron, syms, intraday); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")
	return nil
}
