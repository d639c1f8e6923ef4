package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-reactions/browser"
	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/models"
)

// StopReason explains why a traversal ended.
type StopReason string

const (
	StopEmpty     StopReason = "empty"
	StopComplete  StopReason = "complete"
	StopStuck     StopReason = "stuck"
	StopEnd       StopReason = "end"
	StopMaxPages  StopReason = "max_pages"
	StopLimit     StopReason = "limit"
	StopError     StopReason = "error"
	StopCancelled StopReason = "cancelled"
)

// TraversalOutcome is what a Walk collected before it stopped.
type TraversalOutcome struct {
	Refs  []models.ItemReference
	Pages int
	Total int
	Stop  StopReason
}

// TraverserOptions configures a Traverser.
type TraverserOptions struct {
	MaxPages int
	// MaxItems stops the walk once that many references are collected; 0
	// means no limit.
	MaxItems int
	// PageSize is offered to the level's page size control before the
	// first page is read; 0 leaves the page size alone.
	PageSize      int
	ReadyTimeout  time.Duration
	SettleTimeout time.Duration
	PollInterval  time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Traverser walks the pages of one paginated index through a single session.
type Traverser struct {
	session browser.Session
	level   config.Level
	opts    TraverserOptions
	itemRE  *regexp.Regexp
	totalRE *regexp.Regexp
}

// NewTraverser compiles the level's patterns and binds it to session.
func NewTraverser(session browser.Session, level config.Level, opts TraverserOptions) (*Traverser, error) {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1000
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	t := &Traverser{session: session, level: level, opts: opts}
	var err error
	if level.ItemPattern != "" {
		if t.itemRE, err = regexp.Compile(level.ItemPattern); err != nil {
			return nil, fmt.Errorf("compile item pattern: %w", err)
		}
	}
	if level.TotalPattern != "" {
		if t.totalRE, err = regexp.Compile(level.TotalPattern); err != nil {
			return nil, fmt.Errorf("compile total pattern: %w", err)
		}
	}
	return t, nil
}

// Walk visits listing pages starting at startURL and returns the
// de-duplicated references in discovery order. visit, if non-nil, is called
// once per page as soon as it has been scraped. On a TraversalError the
// references collected so far are still returned.
func (t *Traverser) Walk(ctx context.Context, startURL string, visit func(models.ListingPage)) (TraversalOutcome, error) {
	logger := t.opts.Logger.With(slog.String("listing", startURL))
	out := TraversalOutcome{}
	seen := make(map[string]int)

	if err := t.session.Navigate(ctx, startURL); err != nil {
		out.Stop = StopError
		return out, &TraversalError{URL: startURL, Page: 1, Err: err}
	}
	if t.level.PageSizeSelector != "" && t.opts.PageSize > 0 {
		t.applyPageSize(ctx, logger)
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			out.Stop = StopCancelled
			return out, err
		}

		current := t.session.URL()
		if err := t.session.WaitReady(ctx, t.level.ReadySelector, t.opts.ReadyTimeout); err != nil {
			out.Stop = StopError
			return out, &TraversalError{URL: current, Page: page, Err: err}
		}
		links, err := t.session.Find(ctx, t.level.ItemSelector)
		if err != nil {
			out.Stop = StopError
			return out, &TraversalError{URL: current, Page: page, Err: err}
		}

		before := len(out.Refs)
		lp := models.ListingPage{Index: page, URL: current}
		onPage := make(map[string]bool)
		for _, link := range links {
			if t.limitReached(len(out.Refs)) {
				break
			}
			id, ok := t.referenceID(link.Href)
			if !ok || onPage[id] {
				continue
			}
			onPage[id] = true

			rank, known := seen[id]
			if !known {
				rank = len(out.Refs)
				seen[id] = rank
				out.Refs = append(out.Refs, models.ItemReference{ID: id, URL: link.Href, Rank: rank})
			}
			lp.Items = append(lp.Items, out.Refs[rank])
		}

		if out.Total == 0 {
			out.Total = t.totalHint(ctx)
		}
		lp.TotalHint = out.Total
		out.Pages = page
		t.opts.Metrics.IncPage()

		logger.Debug("listing page scraped",
			slog.Int("page", page),
			slog.Int("found", len(lp.Items)),
			slog.Int("collected", len(out.Refs)),
			slog.Int("total_hint", out.Total),
		)

		stop := StopReason("")
		var next browser.Element
		switch {
		case len(lp.Items) == 0:
			stop = StopEmpty
		case t.limitReached(len(out.Refs)):
			stop = StopLimit
		case out.Total > 0 && len(out.Refs) >= out.Total:
			stop = StopComplete
		case len(out.Refs) == before:
			stop = StopStuck
		default:
			var found bool
			next, found = t.findNext(ctx, current)
			if !found {
				stop = StopEnd
			} else if page >= t.opts.MaxPages {
				stop = StopMaxPages
			}
		}
		lp.NextURL = next.Href
		if visit != nil {
			visit(lp)
		}

		if stop != "" {
			out.Stop = stop
			if stop != StopLimit && out.Total > 0 && len(out.Refs) < out.Total {
				logger.Warn("listing ended below declared total",
					slog.String("stop", string(stop)),
					slog.Int("collected", len(out.Refs)),
					slog.Int("total_hint", out.Total),
				)
			}
			logger.Info("listing traversal finished",
				slog.String("stop", string(stop)),
				slog.Int("pages", out.Pages),
				slog.Int("items", len(out.Refs)),
			)
			return out, nil
		}

		marker := t.pageMarker(ctx)
		if err := t.session.Click(ctx, next); err != nil {
			out.Stop = StopError
			return out, &TraversalError{URL: next.Href, Page: page + 1, Err: err}
		}
		if !t.awaitChange(ctx, marker, t.opts.ReadyTimeout) {
			logger.Debug("page unchanged after next control",
				slog.Int("page", page),
				slog.Duration("waited", t.opts.ReadyTimeout),
			)
		}
	}
}

func (t *Traverser) limitReached(collected int) bool {
	return t.opts.MaxItems > 0 && collected >= t.opts.MaxItems
}

// pageMarker identifies what the session shows: its URL, the first item
// link and the number of item links.
type pageMarker struct {
	url   string
	first string
	count int
}

func (t *Traverser) pageMarker(ctx context.Context) pageMarker {
	m := pageMarker{url: t.session.URL()}
	links, err := t.session.Find(ctx, t.level.ItemSelector)
	if err == nil && len(links) > 0 {
		m.first = links[0].Href
		m.count = len(links)
	}
	return m
}

// awaitChange polls until the session shows a page other than before, or
// timeout passes. Client-side pagination swaps rows in place after a click.
func (t *Traverser) awaitChange(ctx context.Context, before pageMarker, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		now := t.pageMarker(ctx)
		if now.url != before.url || (now.count > 0 && (now.first != before.first || now.count != before.count)) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(t.opts.PollInterval):
		}
	}
}

// applyPageSize selects the configured page size when the page offers it.
// Failures are logged and the walk goes on with the site's default size.
func (t *Traverser) applyPageSize(ctx context.Context, logger *slog.Logger) {
	if err := t.session.WaitReady(ctx, t.level.ReadySelector, t.opts.ReadyTimeout); err != nil {
		return
	}
	controls, err := t.session.Find(ctx, t.level.PageSizeSelector)
	if err != nil || len(controls) == 0 {
		logger.Debug("no page size control", slog.String("selector", t.level.PageSizeSelector))
		return
	}

	value := strconv.Itoa(t.opts.PageSize)
	marker := t.pageMarker(ctx)
	changed, err := t.session.SelectOption(ctx, controls[0], value)
	if err != nil {
		logger.Debug("page size not applied", slog.String("size", value), slog.Any("error", err))
		return
	}
	if changed {
		t.awaitChange(ctx, marker, t.opts.SettleTimeout)
		logger.Debug("page size applied", slog.String("size", value))
	}
}

// referenceID derives the stable identity of a detail link.
func (t *Traverser) referenceID(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if t.itemRE != nil {
		m := t.itemRE.FindStringSubmatch(href)
		if m == nil {
			return "", false
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return m[0], true
	}
	return canonicalURL(href), true
}

func (t *Traverser) totalHint(ctx context.Context) int {
	if t.totalRE == nil || t.level.TotalSelector == "" {
		return 0
	}
	elements, err := t.session.Find(ctx, t.level.TotalSelector)
	if err != nil {
		return 0
	}
	for _, el := range elements {
		m := t.totalRE.FindStringSubmatch(el.Text)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func (t *Traverser) findNext(ctx context.Context, current string) (browser.Element, bool) {
	return browser.FindFirst(ctx, t.session, t.level.NextStrategies, func(el browser.Element) bool {
		return el.Enabled && el.Visible && actionable(el.Href, current)
	})
}

// actionable rejects links that would leave the browser on the current page.
// An element without href (a button) is actionable.
func actionable(href, current string) bool {
	href = strings.TrimSpace(href)
	if href == "" {
		return true
	}
	if strings.HasPrefix(href, "#") {
		return false
	}
	return canonicalURL(href) != canonicalURL(current)
}

// canonicalURL drops the fragment and any trailing slash.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
