package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-reactions/browser"
	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/httpfetch"
	"github.com/aluiziolira/go-scrape-reactions/models"
	"github.com/aluiziolira/go-scrape-reactions/parser"
)

// BrowserWorkers opens one rendering session per worker and reads the
// payload out of the rendered detail page, or follows its export link.
type BrowserWorkers struct {
	Sessions browser.Factory
	Site     config.Site
	// Export is the identity used to download export links.
	Export         httpfetch.Options
	ReadyTimeout   time.Duration
	PayloadTimeout time.Duration
	Logger         *slog.Logger
}

// NewWorker opens a fresh session for worker id.
func (w *BrowserWorkers) NewWorker(ctx context.Context, id int) (Fetcher, error) {
	session, err := w.Sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session for worker %d: %w", id, err)
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &browserFetcher{
		session:        session,
		site:           w.Site,
		readyTimeout:   w.ReadyTimeout,
		payloadTimeout: w.PayloadTimeout,
		logger:         logger.With(slog.Int("worker", id)),
	}
	if len(w.Site.ExportLinks) > 0 {
		f.export = httpfetch.New(w.Export)
	}
	return f, nil
}

type browserFetcher struct {
	session        browser.Session
	site           config.Site
	export         *httpfetch.Client
	readyTimeout   time.Duration
	payloadTimeout time.Duration
	logger         *slog.Logger
}

func (f *browserFetcher) Fetch(ctx context.Context, ref models.ItemReference) (string, error) {
	if err := f.session.Navigate(ctx, ref.URL); err != nil {
		return "", err
	}
	if err := f.session.WaitReady(ctx, f.site.DetailReadySelector, f.readyTimeout); err != nil {
		return "", fmt.Errorf("detail page not ready: %w", err)
	}

	if len(f.site.Disclosure) > 0 {
		if err := f.disclose(ctx, ref); err != nil {
			return "", err
		}
	}

	if len(f.site.ExportLinks) > 0 {
		link, ok := browser.FindFirst(ctx, f.session, f.site.ExportLinks, hasHref)
		if !ok {
			return "", fmt.Errorf("%s: %w", ref.URL, ErrNoExportLink)
		}
		return downloadExport(ctx, f.export, f.site.Format, link.Href)
	}

	if err := f.session.WaitReady(ctx, f.site.PayloadSelector, f.payloadTimeout); err != nil {
		return "", fmt.Errorf("payload not present: %w", err)
	}
	elements, err := f.session.Find(ctx, f.site.PayloadSelector)
	if err != nil {
		return "", err
	}
	return firstPayload(f.site.Format, f.site.PayloadSelector, elements, func(el browser.Element) (string, error) {
		return f.session.Text(ctx, el)
	})
}

// disclose clicks the first usable disclosure control and waits for the
// revealed panel. A page without the control is read as it is.
func (f *browserFetcher) disclose(ctx context.Context, ref models.ItemReference) error {
	control, ok := browser.FindFirst(ctx, f.session, f.site.Disclosure, func(el browser.Element) bool {
		return el.Visible && el.Enabled
	})
	if !ok {
		f.logger.Debug("no disclosure control", slog.String("id", ref.ID))
		return nil
	}

	err := f.session.Click(ctx, control)
	switch {
	case errors.Is(err, browser.ErrNotActionable):
		f.logger.Debug("disclosure control not actionable", slog.String("id", ref.ID))
		return nil
	case err != nil:
		return fmt.Errorf("reveal full record: %w", err)
	}

	if f.site.RevealedSelector != "" {
		if err := f.session.WaitVisible(ctx, f.site.RevealedSelector, f.payloadTimeout); err != nil {
			return fmt.Errorf("full record not shown: %w", err)
		}
	}
	return nil
}

func (f *browserFetcher) Close() error {
	return f.session.Close()
}

// HTTPWorkers fetches detail pages over plain HTTP with an identity captured
// from the traversal session.
type HTTPWorkers struct {
	Options httpfetch.Options
	Site    config.Site
}

// NewWorker builds an HTTP client for worker id.
func (w *HTTPWorkers) NewWorker(ctx context.Context, id int) (Fetcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpFetcher{client: httpfetch.New(w.Options), site: w.Site}, nil
}

type httpFetcher struct {
	client *httpfetch.Client
	site   config.Site
}

// Fetch GETs the detail page. Sites with export links have the payload
// downloaded from the first one found; otherwise the payload is read from
// the page itself.
func (f *httpFetcher) Fetch(ctx context.Context, ref models.ItemReference) (string, error) {
	_, body, err := f.client.Get(ctx, ref.URL)
	if err != nil {
		return "", err
	}

	if len(f.site.ExportLinks) == 0 && f.site.PayloadSelector == "" {
		return validPayload(f.site.Format, body)
	}

	doc, err := browser.ParseDocument(ref.URL, []byte(body))
	if err != nil {
		return "", err
	}
	if len(f.site.ExportLinks) > 0 {
		link, ok := doc.First(f.site.ExportLinks, hasHref)
		if !ok {
			return "", fmt.Errorf("%s: %w", ref.URL, ErrNoExportLink)
		}
		return downloadExport(ctx, f.client, f.site.Format, link.Href)
	}

	elements, err := doc.Find(f.site.PayloadSelector)
	if err != nil {
		return "", err
	}
	return firstPayload(f.site.Format, f.site.PayloadSelector, elements, doc.Text)
}

func (f *httpFetcher) Close() error {
	return nil
}

func hasHref(el browser.Element) bool {
	href := strings.TrimSpace(el.Href)
	return href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

func downloadExport(ctx context.Context, client *httpfetch.Client, format, href string) (string, error) {
	_, body, err := client.Get(ctx, href)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return validPayload(format, body)
}

// firstPayload returns the text of the first element holding a well-formed
// payload.
func firstPayload(format, selector string, elements []browser.Element, text func(browser.Element) (string, error)) (string, error) {
	if len(elements) == 0 {
		return "", fmt.Errorf("payload %q: %w", selector, browser.ErrNotFound)
	}
	var firstErr error
	for _, el := range elements {
		raw, err := text(el)
		if err == nil {
			var payload string
			if payload, err = validPayload(format, raw); err == nil {
				return payload, nil
			}
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", firstErr
}

func validPayload(format, raw string) (string, error) {
	payload := strings.TrimSpace(raw)
	if err := parser.ValidatePayload(format, payload); err != nil {
		return "", err
	}
	return payload, nil
}
