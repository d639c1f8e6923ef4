package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type fileConfig struct {
	Site      string   `toml:"site"`
	Catalogue string   `toml:"catalogue"`
	Listings  []string `toml:"listings"`

	Crawl struct {
		MaxPages          int     `toml:"max_pages"`
		MaxListings       int     `toml:"max_listings"`
		MaxItems          int     `toml:"max_items"`
		PageSize          *int    `toml:"page_size"`
		Workers           int     `toml:"workers"`
		MaxAttempts       int     `toml:"max_attempts"`
		RetryPause        string  `toml:"retry_pause"`
		RequestsPerSecond float64 `toml:"requests_per_second"`
		Renderer          string  `toml:"renderer"`
		FetchMode         string  `toml:"fetch_mode"`
		Headless          *bool   `toml:"headless"`
		UserAgent         string  `toml:"user_agent"`
	} `toml:"crawl"`

	Timeouts struct {
		ListingReady string `toml:"listing_ready"`
		DetailReady  string `toml:"detail_ready"`
		Payload      string `toml:"payload"`
		Request      string `toml:"request"`
	} `toml:"timeouts"`

	Output struct {
		File          string `toml:"file"`
		Format        string `toml:"format"`
		BufferSize    int    `toml:"buffer_size"`
		BatchSize     int    `toml:"batch_size"`
		DedupeMaxSize int    `toml:"dedupe_max_size"`
	} `toml:"output"`

	MetricsAddr string `toml:"metrics_addr"`
}

// LoadFile merges the TOML file at path over cfg. Unset keys keep their value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Site, fc.Site)
	setString(&cfg.Catalogue, fc.Catalogue)
	if len(fc.Listings) > 0 {
		cfg.Listings = fc.Listings
	}
	setInt(&cfg.MaxPages, fc.Crawl.MaxPages)
	setInt(&cfg.MaxListings, fc.Crawl.MaxListings)
	setInt(&cfg.MaxItemsPerListing, fc.Crawl.MaxItems)
	if fc.Crawl.PageSize != nil {
		cfg.PageSize = *fc.Crawl.PageSize
	}
	setInt(&cfg.Workers, fc.Crawl.Workers)
	setInt(&cfg.MaxAttempts, fc.Crawl.MaxAttempts)
	if fc.Crawl.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = fc.Crawl.RequestsPerSecond
	}
	setString(&cfg.Renderer, fc.Crawl.Renderer)
	setString(&cfg.FetchMode, fc.Crawl.FetchMode)
	if fc.Crawl.Headless != nil {
		cfg.Headless = *fc.Crawl.Headless
	}
	setString(&cfg.UserAgent, fc.Crawl.UserAgent)

	durations := []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&cfg.RetryPause, fc.Crawl.RetryPause, "crawl.retry_pause"},
		{&cfg.ListingReadyTimeout, fc.Timeouts.ListingReady, "timeouts.listing_ready"},
		{&cfg.DetailReadyTimeout, fc.Timeouts.DetailReady, "timeouts.detail_ready"},
		{&cfg.PayloadTimeout, fc.Timeouts.Payload, "timeouts.payload"},
		{&cfg.Timeout, fc.Timeouts.Request, "timeouts.request"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s in %s: %w", d.key, path, err)
		}
		*d.dst = parsed
	}

	setString(&cfg.OutputFile, fc.Output.File)
	setString(&cfg.OutputFormat, fc.Output.Format)
	setInt(&cfg.PipelineBufferSize, fc.Output.BufferSize)
	setInt(&cfg.BatchSize, fc.Output.BatchSize)
	setInt(&cfg.DedupeMaxSize, fc.Output.DedupeMaxSize)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}
