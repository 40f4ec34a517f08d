package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/stockcache/internal/calendar"
	"github.com/bobmcallan/stockcache/internal/clients/artifacts"
	"github.com/bobmcallan/stockcache/internal/clients/eodhd"
	"github.com/bobmcallan/stockcache/internal/clients/github"
	"github.com/bobmcallan/stockcache/internal/clients/ticks"
	"github.com/bobmcallan/stockcache/internal/clients/yahoo"
	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
	"github.com/bobmcallan/stockcache/internal/services/acquire"
	"github.com/bobmcallan/stockcache/internal/services/backfill"
	"github.com/bobmcallan/stockcache/internal/services/freshness"
	"github.com/bobmcallan/stockcache/internal/services/livefetch"
	"github.com/bobmcallan/stockcache/internal/services/marketdata"
	"github.com/bobmcallan/stockcache/internal/services/reconcile"
	"github.com/bobmcallan/stockcache/internal/services/validator"
	"github.com/bobmcallan/stockcache/internal/storage/runlog"
	"github.com/bobmcallan/stockcache/internal/storage/snapshotfs"
)

// App holds all initialized clients and services.
// It is the shared core behind every cmd/stockcache subcommand.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Calendar    *calendar.Calendar
	Store       *snapshotfs.Store
	Recorder    interfaces.RunRecorder
	MarketData  interfaces.MarketDataClient
	Freshness   interfaces.FreshnessEvaluator
	Validator   *validator.Validator
	Reconciler  interfaces.TickReconciler
	Backfill    interfaces.BackfillTrigger
	LiveFetcher interfaces.LiveFetcher
	Acquirer    interfaces.SnapshotAcquirer
	StartupTime time.Time

	scheduler *cron.Cron
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath returns configPath, or STOCKCACHE_CONFIG, or stockcache.toml
// next to the binary, falling back to config/stockcache.toml for development.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("STOCKCACHE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "stockcache.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/stockcache.toml"
		}
	}
	return configPath
}

// NewApp loads configuration and wires every client and service.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	common.LoadVersionFromFile()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths against the binary directory
	binDir := getBinaryDir()
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return NewAppWithConfig(config, logger)
}

// NewAppWithConfig wires an App from an already-loaded configuration.
func NewAppWithConfig(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	cal, err := calendar.New(config.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize trading calendar: %w", err)
	}
	loc := cal.Location()

	store, err := snapshotfs.NewStore(logger, config.SnapshotDir(), loc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	var recorder interfaces.RunRecorder = runlog.NewNoopRecorder()
	if config.Storage.RunLog.Enabled {
		sqliteRecorder, err := runlog.NewSQLiteRecorder(logger, config.RunLogPath())
		if err != nil {
			logger.Warn().Err(err).Msg("Run ledger unavailable - acquisitions will not be recorded")
		} else {
			recorder = sqliteRecorder
		}
	}

	// Resolve credentials
	eodhdKey, err := common.ResolveAPIKey("eodhd_api_key", config.Clients.EODHD.APIKey)
	if err != nil {
		logger.Info().Msg("EODHD API key not configured - using Yahoo for live fetches")
	}
	githubToken, err := common.ResolveAPIKey("github_token", config.Clients.GitHub.Token)
	if err != nil {
		logger.Info().Msg("GitHub token not configured - remote backfill disabled")
	}

	// Initialize API clients
	var primary interfaces.MarketDataClient
	if eodhdKey != "" {
		primary = eodhd.NewClient(eodhdKey,
			eodhd.WithBaseURL(config.Clients.EODHD.BaseURL),
			eodhd.WithExchange(config.Clients.EODHD.Exchange),
			eodhd.WithLocation(loc),
			eodhd.WithLogger(logger),
			eodhd.WithRateLimit(config.Clients.EODHD.RateLimit),
			eodhd.WithTimeout(config.Clients.EODHD.GetTimeout()),
		)
	}

	yahooClient := yahoo.NewClient(
		yahoo.WithBaseURL(config.Clients.Yahoo.BaseURL),
		yahoo.WithSuffix(config.Clients.Yahoo.Suffix),
		yahoo.WithLocation(loc),
		yahoo.WithLogger(logger),
		yahoo.WithRateLimit(config.Clients.Yahoo.RateLimit),
		yahoo.WithTimeout(config.Clients.Yahoo.GetTimeout()),
	)

	var remote interfaces.SnapshotDownloader
	if config.Clients.Artifacts.BaseURL != "" {
		remote = artifacts.NewClient(config.Clients.Artifacts.BaseURL,
			artifacts.WithLogger(logger),
			artifacts.WithRateLimit(config.Clients.Artifacts.RateLimit),
			artifacts.WithTimeout(config.Clients.Artifacts.GetTimeout()),
		)
	}

	var tickSource interfaces.TickSource
	if config.Clients.Ticks.URL != "" {
		tickSource = ticks.NewClient(config.Clients.Ticks.URL,
			ticks.WithLogger(logger),
			ticks.WithLocation(loc),
			ticks.WithTimeout(config.Clients.Ticks.GetTimeout()),
		)
	}

	dispatcher := github.NewClient(githubToken,
		config.Clients.GitHub.Owner,
		config.Clients.GitHub.Repo,
		config.Clients.GitHub.Workflow,
		github.WithAPIURL(config.Clients.GitHub.APIURL),
		github.WithRef(config.Clients.GitHub.Ref),
		github.WithInputs(config.Clients.GitHub.Inputs),
		github.WithLogger(logger),
		github.WithTimeout(config.Clients.GitHub.GetTimeout()),
	)

	// Initialize services
	marketData := marketdata.NewService(primary, yahooClient, cal, logger)
	freshnessService := freshness.NewService(cal, config.Policy, logger)
	validatorService := validator.New(config.Policy)
	reconciler := reconcile.NewService(tickSource, cal, logger)
	backfillService := backfill.NewService(dispatcher, logger)
	liveFetcher := livefetch.NewService(marketData, config.Policy.LiveFetchConcurrency, logger)

	acquirer, err := acquire.NewService(acquire.Dependencies{
		Store:      store,
		Remote:     remote,
		Reconciler: reconciler,
		Live:       liveFetcher,
		Backfill:   backfillService,
		Freshness:  freshnessService,
		Validator:  validatorService,
		Calendar:   cal,
		Recorder:   recorder,
	}, config.Policy, logger)
	if err != nil {
		recorder.Close()
		return nil, err
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Calendar:    cal,
		Store:       store,
		Recorder:    recorder,
		MarketData:  marketData,
		Freshness:   freshnessService,
		Validator:   validatorService,
		Reconciler:  reconciler,
		Backfill:    backfillService,
		LiveFetcher: liveFetcher,
		Acquirer:    acquirer,
		StartupTime: startupStart,
	}

	logger.Info().
		Str("exchange", cal.Name()).
		Int("holidays", cal.HolidayCount()).
		Bool("remote", remote != nil).
		Bool("ticks", tickSource != nil).
		Bool("backfill", dispatcher.HasCredential()).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, close run ledger.
func (a *App) Close() {
	a.StopScheduler()
	if a.Recorder != nil {
		if err := a.Recorder.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close run ledger")
		}
		a.Recorder = nil
	}
}

// Acquire runs one acquisition. An empty symbol list means every cached symbol.
func (a *App) Acquire(ctx context.Context, symbols []string, intraday bool) (*models.AcquireResult, error) {
	return a.Acquirer.Acquire(ctx, models.AcquireRequest{Symbols: symbols, Intraday: intraday})
}
