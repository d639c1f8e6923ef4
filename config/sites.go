package config

import (
	"sort"
	"time"
)

// Site names.
const (
	SiteORD = "ord"
	SiteCRD = "crd"
)

// Payload formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// Fetch modes.
const (
	FetchBrowser = "browser"
	FetchHTTP    = "http"
)

// Strategy is one selector with its own upper bound on waiting. Selectors
// starting with "/" or "(" are XPath, anything else is CSS.
type Strategy struct {
	Selector string
	Timeout  time.Duration
}

// Level describes one paginated index: a catalogue of listings or a listing
// of records.
type Level struct {
	ReadySelector  string
	ItemSelector   string
	ItemPattern    string
	TotalSelector  string
	TotalPattern   string
	NextStrategies []Strategy

	// PageSizeSelector is a <select> offering page sizes, if the index has one.
	PageSizeSelector string
}

// Site describes the DOM shape of one target site.
type Site struct {
	Name      string
	Format    string
	FetchMode string
	// OriginByPosition names batches "<position>_<listing URL>".
	OriginByPosition bool

	// EntryURL is where the catalogue walk starts when no listings are given.
	EntryURL  string
	Catalogue *Level
	Listing   Level

	// detail
	DetailReadySelector string
	Disclosure          []Strategy
	RevealedSelector    string
	PayloadSelector     string
	ExportLinks         []Strategy
}

var ordNext = []Strategy{
	{Selector: "//*[contains(text(), 'Next') or contains(text(), 'next')]", Timeout: 5 * time.Second},
}

var sites = map[string]Site{
	SiteORD: {
		Name:      SiteORD,
		Format:    FormatJSON,
		FetchMode: FetchBrowser,
		EntryURL:  "https://open-reaction-database.org/browse",
		Catalogue: &Level{
			ReadySelector:    "body",
			ItemSelector:     "a[href*='/dataset/ord_dataset-']",
			ItemPattern:      `/dataset/(ord_dataset-[^/?#]+)`,
			TotalSelector:    "div.select",
			TotalPattern:     `of (\d+) entries`,
			NextStrategies:   ordNext,
			PageSizeSelector: "select[name='pagination']",
		},
		Listing: Level{
			ReadySelector:    "body",
			ItemSelector:     "a[href*='/id/ord-']",
			ItemPattern:      `/id/(ord-[^/?#]+)`,
			TotalSelector:    "div.select",
			TotalPattern:     `of (\d+) entries`,
			NextStrategies:   ordNext,
			PageSizeSelector: "select[name='pagination']",
		},
		DetailReadySelector: "body",
		Disclosure: []Strategy{
			{Selector: "div.full-record.button", Timeout: 5 * time.Second},
			{Selector: "//div[contains(@class, 'full-record')]", Timeout: 5 * time.Second},
		},
		RevealedSelector: "div.modal-container, .modal-container",
		PayloadSelector:  "div.data pre, .data pre, pre",
	},
	SiteCRD: {
		Name:             SiteCRD,
		Format:           FormatXML,
		FetchMode:        FetchHTTP,
		OriginByPosition: true,
		EntryURL:         "https://kmt.vander-lingen.nl/archive",
		Catalogue: &Level{
			ReadySelector: "body",
			ItemSelector:  "//a[contains(text(), 'reaction data')]",
		},
		Listing: Level{
			ReadySelector: "body",
			ItemSelector:  "//a[contains(translate(normalize-space(.), 'DETAILS', 'details'), 'details')]",
			NextStrategies: []Strategy{
				{Selector: "//a[contains(text(), 'Next') or contains(text(), '»')]", Timeout: 5 * time.Second},
			},
		},
		DetailReadySelector: "body",
		ExportLinks: []Strategy{
			{Selector: "a[href*='/data/transfer/export/']", Timeout: 5 * time.Second},
			{Selector: "//a[normalize-space(text())='XML']", Timeout: 3 * time.Second},
		},
	},
}

// LookupSite returns the named site profile.
func LookupSite(name string) (Site, bool) {
	site, ok := sites[name]
	return site, ok
}

// SiteNames lists the known site profiles.
func SiteNames() []string {
	out := make([]string, 0, len(sites))
	for name := range sites {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
