package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/stockcache/internal/app"
	"github.com/bobmcallan/stockcache/internal/common"
)

var (
	cfgFile     string
	verbose     bool
	intraday    bool
	jsonOutput  bool
	symbols     []string
	symbolsFile string
)

var rootCmd = &cobra.Command{
	Use:   "stockcache",
	Short: "Stock snapshot cache and freshness reconciliation",
	Long: `stockcache keeps a local cache of per-symbol bar history fresh for the
current trading session, falling back from the local snapshot to the remote
prebuilt snapshot, the live-tick overlay and per-symbol fetches.

Commands:
    acquire     run one acquisition and report unresolved symbols
    status      evaluate the local snapshot and show recent runs
    backfill    dispatch the remote history backfill job
    watch       re-acquire on a cron schedule
`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default stockcache.toml next to the binary)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&intraday, "intraday", false, "use 1-minute snapshots instead of daily")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		common.LoadVersionFromFile()
		info := common.GetBuildInfo()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	},
}

// newApp initializes the App, honouring --verbose.
func newApp() (*app.App, error) {
	if verbose {
		os.Setenv("STOCKCACHE_LOG_LEVEL", "debug")
	}
	a, err := app.NewApp(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

// addSymbolFlags registers --symbols and --symbols-file on cmd.
func addSymbolFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "comma-separated symbols (default: every cached symbol)")
	cmd.Flags().StringVar(&symbolsFile, "symbols-file", "", "file with one symbol per line")
}

// requestedSymbols merges --symbols and --symbols-file. Blank lines and # comments are ignored.
func requestedSymbols() ([]string, error) {
	out := append([]string(nil), symbols...)
	if symbolsFile == "" {
		return out, nil
	}
	f, err := os.Open(symbolsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbols file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	return out, nil
}
