package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds scraper configuration. The env tags name the SCRAPER_*
// variables ApplyEnv reads.
type Config struct {
	Site string `env:"SCRAPER_SITE" validate:"required"`

	// Catalogue overrides the site's entry URL for listing discovery.
	Catalogue string `env:"SCRAPER_CATALOGUE" validate:"omitempty,url"`

	// Listings, when set, skip discovery.
	Listings []string `env:"SCRAPER_LISTINGS" env-separator:"," validate:"omitempty,dive,url"`

	MaxPages           int           `env:"SCRAPER_PAGES" validate:"gt=0"`
	MaxListings        int           `env:"SCRAPER_MAX_LISTINGS" validate:"gte=0"`
	MaxItemsPerListing int           `env:"SCRAPER_MAX_ITEMS" validate:"gte=0"`
	PageSize           int           `env:"SCRAPER_PAGE_SIZE" validate:"gte=0"`
	Workers            int           `env:"SCRAPER_WORKERS" validate:"gt=0,lte=64"`
	MaxAttempts        int           `env:"SCRAPER_MAX_ATTEMPTS" validate:"gt=0"`
	RetryPause         time.Duration `env:"SCRAPER_RETRY_PAUSE"`

	ListingReadyTimeout time.Duration
	DetailReadyTimeout  time.Duration
	PayloadTimeout      time.Duration
	Timeout             time.Duration

	RequestsPerSecond float64 `env:"SCRAPER_RPS" validate:"gte=0"`

	Renderer  string `env:"SCRAPER_RENDERER" validate:"oneof=chrome static"`
	FetchMode string `env:"SCRAPER_FETCH_MODE" validate:"omitempty,oneof=browser http"`
	Headless  bool   `env:"SCRAPER_HEADLESS"`
	UserAgent string `env:"SCRAPER_USER_AGENT" validate:"required"`

	OutputFile   string `env:"SCRAPER_OUTPUT" validate:"required"`
	OutputFormat string `env:"SCRAPER_FORMAT" validate:"oneof=csv json dual"`

	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	MetricsAddr        string `env:"SCRAPER_METRICS_ADDR"`
	Verbose            bool
}

// DefaultConfig returns conservative defaults for the ORD browser. With no
// listings the crawl starts from the site's dataset catalogue.
func DefaultConfig() *Config {
	return &Config{
		Site:                SiteORD,
		MaxPages:            200,
		MaxListings:         0,
		MaxItemsPerListing:  0,
		PageSize:            100,
		Workers:             3,
		MaxAttempts:         2,
		RetryPause:          time.Second,
		ListingReadyTimeout: 10 * time.Second,
		DetailReadyTimeout:  15 * time.Second,
		PayloadTimeout:      10 * time.Second,
		Timeout:             15 * time.Second,
		RequestsPerSecond:   0,
		Renderer:            "chrome",
		FetchMode:           "",
		Headless:            true,
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		OutputFile:          "output/reactions.csv",
		OutputFormat:        "csv",
		PipelineBufferSize:  512,
		BatchSize:           64,
		DedupeMaxSize:       100000,
		MetricsAddr:         "",
		Verbose:             false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	site, ok := LookupSite(c.Site)
	if !ok {
		return fmt.Errorf("unknown site %q", c.Site)
	}
	for _, raw := range c.Listings {
		if err := requireHost("listing URL", raw); err != nil {
			return err
		}
	}
	if len(c.Listings) == 0 {
		if site.Catalogue == nil {
			return fmt.Errorf("site %s has no catalogue; at least one listing URL is required", c.Site)
		}
		if c.Catalogue != "" {
			if err := requireHost("catalogue URL", c.Catalogue); err != nil {
				return err
			}
		}
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxListings < 0 || c.MaxItemsPerListing < 0 {
		return fmt.Errorf("max listings and max items cannot be negative")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("page size cannot be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryPause < 0 {
		return fmt.Errorf("retry pause cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	for name, d := range map[string]time.Duration{
		"listing ready timeout": c.ListingReadyTimeout,
		"detail ready timeout":  c.DetailReadyTimeout,
		"payload timeout":       c.PayloadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Renderer != "chrome" && c.Renderer != "static" {
		return fmt.Errorf("renderer must be chrome or static")
	}
	if c.FetchMode != "" && c.FetchMode != FetchBrowser && c.FetchMode != FetchHTTP {
		return fmt.Errorf("fetch mode must be browser or http")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func requireHost(what, raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", what, raw, err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s %q must include a host", what, raw)
	}
	return nil
}

// SiteProfile returns the site profile selected by c.Site.
func (c *Config) SiteProfile() Site {
	site, _ := LookupSite(c.Site)
	return site
}

// EffectiveFetchMode returns the configured fetch mode, or the site's own
// when none is set.
func (c *Config) EffectiveFetchMode() string {
	if c.FetchMode != "" {
		return c.FetchMode
	}
	if mode := c.SiteProfile().FetchMode; mode != "" {
		return mode
	}
	return FetchBrowser
}

// CatalogueURL returns where listing discovery starts.
func (c *Config) CatalogueURL() string {
	if c.Catalogue != "" {
		return c.Catalogue
	}
	return c.SiteProfile().EntryURL
}
