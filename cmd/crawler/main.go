package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/crawlkit/market-crawler/internal/api"
	"github.com/crawlkit/market-crawler/internal/browser"
	"github.com/crawlkit/market-crawler/internal/category"
	"github.com/crawlkit/market-crawler/internal/checkpoint"
	"github.com/crawlkit/market-crawler/internal/config"
	"github.com/crawlkit/market-crawler/internal/crawler"
	"github.com/crawlkit/market-crawler/internal/events"
	"github.com/crawlkit/market-crawler/internal/memory"
	"github.com/crawlkit/market-crawler/internal/metrics"
	"github.com/crawlkit/market-crawler/internal/output"
	"github.com/crawlkit/market-crawler/internal/result"
	"github.com/crawlkit/market-crawler/internal/site"
	"github.com/crawlkit/market-crawler/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		profilePath    = flag.String("profile", "", "site profile JSON (required)")
		categoriesPath = flag.String("categories", "", "categories file (required)")
		date           = flag.String("date", "", "run date YYYYMMDD, defaults to today")
		startCategory  = flag.String("start", "", "first category to crawl")
		endCategory    = flag.String("end", "", "last category to crawl")
		resume         = flag.Bool("resume", true, "keep existing checkpoints for the date")
		testMode       = flag.Bool("test", false, "debug logging, no run report")
		urlOverrides   = flag.String("urls", "", "comma-separated product URLs to crawl instead of categories")
		outputFile     = flag.String("output", "", "final CSV path, defaults to <sitename>_<date>.csv")
	)
	flag.Parse()

	if *profilePath == "" || *categoriesPath == "" {
		flag.Usage()
		return fmt.Errorf("both -profile and -categories are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	profile, err := site.LoadProfile(*profilePath)
	if err != nil {
		return err
	}
	if cfg.Sitename == "" {
		cfg.Sitename = profile.Sitename
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *startCategory != "" {
		cfg.Crawl.StartCategory = *startCategory
	}
	if *endCategory != "" {
		cfg.Crawl.EndCategory = *endCategory
	}

	adapter, err := site.NewListingAdapter(profile)
	if err != nil {
		return err
	}

	settings := &config.Settings{
		Date:       *date,
		Resume:     *resume,
		TestMode:   *testMode,
		Columns:    adapter.Columns(),
		OutputFile: *outputFile,
	}
	runDate := settings.RunDate()
	if *urlOverrides != "" {
		settings.URLOverrides = strings.Split(*urlOverrides, ",")
	}

	dirs, err := output.NewRunDirs(cfg.Crawl.OutputDir, cfg.Sitename)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if settings.TestMode {
		level = "debug"
	}
	logFile, err := os.OpenFile(filepath.Join(dirs.Logs, runDate+".log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	log := logger.New(level, cfg.Logging.Format, io.MultiWriter(os.Stdout, logFile))
	log = log.With("run_id", uuid.NewString()[:8])
	log.Info("run starting", "sitename", cfg.Sitename, "date", runDate, "resume", settings.Resume)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg, dirs)
	if err != nil {
		return err
	}
	defer closeStore()

	if !settings.Resume {
		if err := wipeFileStates(cfg, dirs, runDate); err != nil {
			return err
		}
	}

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
		ProxyServer:    cfg.Browser.ProxyServer,
		RateLimit:      cfg.Crawl.RateLimit,
	}, log)
	if err != nil {
		return err
	}
	defer b.Close()

	backoffCfg := result.BackoffConfig{
		InitialInterval: cfg.Crawl.RetryInitialDelay,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		MaxTries:        cfg.Crawl.MaxRetries,
	}

	var publisher *events.Publisher
	if cfg.Redis.Enabled {
		publisher, err = events.NewPublisher(cfg.Redis.Addr, cfg.Redis.Stream, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	m := metrics.New()
	progress := crawler.NewProgress()

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API.Host+":"+cfg.API.Port, progress, m, log)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	cc := crawler.NewCategoryCrawler(crawler.Deps{
		Adapter:   adapter,
		Browser:   b,
		Store:     store,
		Optimizer: memory.NewOptimizer(cfg.Crawl.MaxProductsChunkSize, log),
		Metrics:   m,
		Events:    publisher,
		Progress:  progress,
		Logger:    log,
	}, crawler.Options{
		Date:                runDate,
		StartPage:           cfg.Crawl.StartPage,
		CategoriesChunkSize: cfg.Crawl.CategoriesChunkSize,
		ProductsChunkSize:   cfg.Crawl.MinProductsChunkSize,
		Backoff:             backoffCfg,
		SaveHTML:            cfg.Crawl.SaveHTML,
		TempDir:             dirs.Temp,
		HTMLDir:             dirs.HTML,
		UseCategoryState:    cfg.Checkpoint.UseCategoryState,
		UseProductState:     cfg.Checkpoint.UseProductState,
	})

	start := time.Now()

	if len(settings.URLOverrides) > 0 {
		err = crawlOverrides(ctx, log, adapter, b, dirs, settings)
	} else {
		err = crawlCategories(ctx, log, cfg, cc, backoffCfg, *categoriesPath)
	}
	if err != nil {
		return err
	}

	finalPath := settings.OutputFile
	if finalPath == "" {
		finalPath = filepath.Join(dirs.Market, fmt.Sprintf("%s_%s.csv", cfg.Sitename, runDate))
	}
	if err := output.Finalize(dirs.Temp, finalPath, adapter.Columns()); err != nil {
		return err
	}
	log.Info("output finalized", "file", finalPath)

	if !settings.TestMode {
		if err := output.WriteReport(dirs.Reports, runDate, finalPath, start, time.Now()); err != nil {
			log.Warn("run report", "error", err)
		}
	}

	snap := progress.Snapshot()
	log.Info("run finished",
		"pages", snap.Pages,
		"products", snap.ProductsExtracted,
		"skipped", snap.ProductsSkipped,
		"failed", snap.ProductsFailed,
		"categories", snap.CategoriesDone,
		"elapsed", time.Since(start).Round(time.Second))
	return nil
}

func crawlCategories(ctx context.Context, log *slog.Logger, cfg *config.Config, cc *crawler.CategoryCrawler, backoffCfg result.BackoffConfig, categoriesPath string) error {
	verifier := category.NewVerifier(category.VerifierOptions{
		TTL:       cfg.Crawl.VerifyTTL,
		CacheSize: cfg.Crawl.VerifyCacheSize,
		RateLimit: cfg.Crawl.RateLimit,
		Timeout:   cfg.Browser.Timeout,
		Backoff:   backoffCfg,
	}, log)

	categories, err := category.Enumerate(ctx, categoriesPath, verifier)
	if err != nil {
		return err
	}
	log.Info("categories verified", "count", len(categories))

	dispatcher := &crawler.ConcurrentCrawler{
		Categories:    categories,
		StartCategory: cfg.Crawl.StartCategory,
		EndCategory:   cfg.Crawl.EndCategory,
		ChunkSize:     cfg.Crawl.CategoriesChunkSize,
		Crawl:         cc.Crawl,
		Logger:        log,
	}
	return dispatcher.Run(ctx)
}

// crawlOverrides extracts an explicit URL list, bypassing category
// enumeration. Used to re-extract a handful of products.
func crawlOverrides(ctx context.Context, log *slog.Logger, adapter site.Adapter, b site.Browser, dirs *output.RunDirs, settings *config.Settings) error {
	sink, err := output.NewPageSink(dirs.Temp, "overrides", 1, adapter.Columns())
	if err != nil {
		return err
	}
	defer sink.Close()

	for _, url := range settings.URLOverrides {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		fields, err := adapter.Extract(ctx, b, url)
		if err != nil {
			log.Error("override extraction failed", "url", url, "error", err)
			continue
		}
		rows := make([]output.Row, 0, len(fields))
		for _, f := range fields {
			rows = append(rows, output.MapRow(f, adapter.Columns()))
		}
		if err := sink.Append(rows...); err != nil {
			return err
		}
		log.Info("override extracted", "url", url, "rows", len(rows))
	}
	return sink.Close()
}

func newStore(ctx context.Context, cfg *config.Config, dirs *output.RunDirs) (checkpoint.Store, func(), error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		store, err := checkpoint.NewPostgresStore(ctx, checkpoint.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return checkpoint.NewFileStore(dirs.States), func() {}, nil
	}
}

// wipeFileStates drops the date's checkpoints so the run starts over. Only
// the file backend is wiped; postgres states are shared across hosts and a
// fresh date key serves the same purpose there.
func wipeFileStates(cfg *config.Config, dirs *output.RunDirs, date string) error {
	if cfg.Checkpoint.Backend != "file" {
		return nil
	}
	dir := filepath.Join(dirs.States, cfg.Sitename, "states", date)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe states: %w", err)
	}
	return nil
}
