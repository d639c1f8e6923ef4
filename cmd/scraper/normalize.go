package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/parser"
)

var (
	normalizeSite      string
	normalizeFormat    string
	normalizeOrigin    string
	normalizeSourceURL string
)

func init() {
	flags := normalizeCmd.Flags()
	flags.StringVar(&normalizeSite, "site", config.SiteORD, "Site profile whose payload format applies")
	flags.StringVar(&normalizeFormat, "format", "", "Payload format (xml or json); overrides --site")
	flags.StringVar(&normalizeOrigin, "origin", "local", "Origin to stamp on the record")
	flags.StringVar(&normalizeSourceURL, "source-url", "", "Source URL to stamp on the record (defaults to the file path)")
	rootCmd.AddCommand(normalizeCmd)
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <payload-file>",
	Short: "Normalizes a saved detail payload and prints the record as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := normalizeFormat
		if format == "" {
			site, ok := config.LookupSite(normalizeSite)
			if !ok {
				return fmt.Errorf("unknown site %q", normalizeSite)
			}
			format = site.Format
		}

		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		sourceURL := normalizeSourceURL
		if sourceURL == "" {
			sourceURL = "file://" + args[0]
		}

		record, err := parser.Normalize(format, string(payload), normalizeOrigin, sourceURL)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", args[0], err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}
