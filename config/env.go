package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// ApplyEnv overrides cfg with the SCRAPER_* variables named in its env tags.
// Unset variables leave the current value alone.
func ApplyEnv(cfg *Config) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	cfg.Site = strings.ToLower(strings.TrimSpace(cfg.Site))
	cfg.Renderer = strings.ToLower(strings.TrimSpace(cfg.Renderer))
	cfg.FetchMode = strings.ToLower(strings.TrimSpace(cfg.FetchMode))
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	cfg.Listings = trimList(cfg.Listings)
	return nil
}

func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
