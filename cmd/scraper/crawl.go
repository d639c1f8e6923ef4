package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aluiziolira/go-scrape-reactions/browser"
	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/pipeline"
	"github.com/aluiziolira/go-scrape-reactions/scraper"
)

type crawlFlags struct {
	site        string
	listings    []string
	catalogue   string
	maxListings int
	maxItems    int
	pageSize    int
	pages       int
	workers     int
	maxAttempts int
	retryPause  time.Duration
	rps         float64
	renderer    string
	fetchMode   string
	headless    bool
	userAgent   string
	output      string
	format      string
	metricsAddr string
}

var crawlOpts crawlFlags

func init() {
	bindCrawlFlags(crawlCmd.Flags(), &crawlOpts)
	rootCmd.AddCommand(crawlCmd)
}

func bindCrawlFlags(flags *pflag.FlagSet, opts *crawlFlags) {
	defaults := config.DefaultConfig()
	flags.StringVar(&opts.site, "site", defaults.Site, "Site profile: "+strings.Join(config.SiteNames(), ", "))
	flags.StringSliceVar(&opts.listings, "listing", nil, "Listing URL to walk (repeatable); without it listings are discovered from the catalogue")
	flags.StringVar(&opts.catalogue, "catalogue", "", "Catalogue URL to discover listings from (default: the site's entry page)")
	flags.IntVar(&opts.maxListings, "max-listings", defaults.MaxListings, "Maximum listings per run (0 = unlimited)")
	flags.IntVar(&opts.maxItems, "max-items", defaults.MaxItemsPerListing, "Maximum reactions per listing (0 = unlimited)")
	flags.IntVar(&opts.pageSize, "page-size", defaults.PageSize, "Rows per listing page when the site offers a page size control")
	flags.IntVar(&opts.pages, "pages", defaults.MaxPages, "Maximum listing pages per listing")
	flags.IntVar(&opts.workers, "workers", defaults.Workers, "Concurrent detail fetches")
	flags.IntVar(&opts.maxAttempts, "max-attempts", defaults.MaxAttempts, "Attempts per detail page")
	flags.DurationVar(&opts.retryPause, "retry-pause", defaults.RetryPause, "Pause between attempts")
	flags.Float64Var(&opts.rps, "rps", defaults.RequestsPerSecond, "Detail fetches per second across workers (0 = unlimited)")
	flags.StringVar(&opts.renderer, "renderer", defaults.Renderer, "Rendering backend: chrome or static")
	flags.StringVar(&opts.fetchMode, "fetch-mode", defaults.FetchMode, "Detail fetch mode: browser or http (default: the site's own)")
	flags.BoolVar(&opts.headless, "headless", defaults.Headless, "Run Chrome headless")
	flags.StringVar(&opts.userAgent, "user-agent", defaults.UserAgent, "User agent for sessions and HTTP fetches")
	flags.StringVar(&opts.output, "output", defaults.OutputFile, "Output file path")
	flags.StringVar(&opts.format, "format", defaults.OutputFormat, "Output format: csv, json, or dual")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--listing <url>]... | [--catalogue <url>]",
	Short: "Walks each listing, fetches every reaction and exports normalized records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags(), &crawlOpts, configPath)
		if err != nil {
			return err
		}
		return runCrawl(cmd.Context(), cfg)
	},
}

// loadConfig layers defaults, the config file, SCRAPER_* variables and
// explicitly set flags, in that order.
func loadConfig(flags *pflag.FlagSet, opts *crawlFlags, path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("site", func() { cfg.Site = opts.site })
	set("listing", func() { cfg.Listings = opts.listings })
	set("catalogue", func() { cfg.Catalogue = opts.catalogue })
	set("max-listings", func() { cfg.MaxListings = opts.maxListings })
	set("max-items", func() { cfg.MaxItemsPerListing = opts.maxItems })
	set("page-size", func() { cfg.PageSize = opts.pageSize })
	set("pages", func() { cfg.MaxPages = opts.pages })
	set("workers", func() { cfg.Workers = opts.workers })
	set("max-attempts", func() { cfg.MaxAttempts = opts.maxAttempts })
	set("retry-pause", func() { cfg.RetryPause = opts.retryPause })
	set("rps", func() { cfg.RequestsPerSecond = opts.rps })
	set("renderer", func() { cfg.Renderer = strings.ToLower(opts.renderer) })
	set("fetch-mode", func() { cfg.FetchMode = strings.ToLower(opts.fetchMode) })
	set("headless", func() { cfg.Headless = opts.headless })
	set("user-agent", func() { cfg.UserAgent = opts.userAgent })
	set("output", func() { cfg.OutputFile = opts.output })
	set("format", func() { cfg.OutputFormat = strings.ToLower(opts.format) })
	set("metrics-addr", func() { cfg.MetricsAddr = opts.metricsAddr })
	cfg.Verbose = verbose

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runCrawl(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting crawl",
		slog.String("site", cfg.Site),
		slog.Int("listings", len(cfg.Listings)),
		slog.Int("workers", cfg.Workers),
		slog.String("renderer", cfg.Renderer),
		slog.String("fetch_mode", cfg.EffectiveFetchMode()),
		slog.Int("max_listings", cfg.MaxListings),
		slog.Int("max_items", cfg.MaxItemsPerListing),
	)

	s, err := scraper.NewScraper(cfg, newSessionFactory(cfg), scraper.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current batch")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("scraping failed: %w", runErr)
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), cfg.OutputFile, p.GetMetrics())

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	return nil
}

func newSessionFactory(cfg *config.Config) browser.Factory {
	if cfg.Renderer == "static" {
		return browser.NewStaticFactory(browser.StaticOptions{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
			Logger:    slog.Default(),
		})
	}
	return browser.NewChromeFactory(browser.ChromeOptions{
		Headless:        cfg.Headless,
		UserAgent:       cfg.UserAgent,
		NavigateTimeout: cfg.Timeout,
		Logger:          slog.Default(),
	})
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
