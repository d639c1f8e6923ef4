package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-reactions/browser"
	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/httpfetch"
	"github.com/aluiziolira/go-scrape-reactions/models"
	"github.com/aluiziolira/go-scrape-reactions/parser"
	"github.com/aluiziolira/go-scrape-reactions/pipeline"
)

// Scraper runs one batch per configured listing: traverse, fetch, order,
// normalize, export.
type Scraper struct {
	cfg      *config.Config
	site     config.Site
	sessions browser.Factory
	Metrics  *Metrics

	logger        *slog.Logger
	workers       WorkerFactory
	httpTransport http.RoundTripper

	mu           sync.Mutex
	errorsByType map[string]int
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithLogger sets the logger used by every stage.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkerFactory replaces the fetcher source chosen from the config.
func WithWorkerFactory(workers WorkerFactory) Option {
	return func(s *Scraper) {
		s.workers = workers
	}
}

// WithHTTPTransport sets the transport used by plain HTTP fetchers.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) {
		s.httpTransport = rt
	}
}

// NewScraper builds a scraper for cfg that renders pages through sessions.
func NewScraper(cfg *config.Config, sessions browser.Factory, opts ...Option) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	site, ok := config.LookupSite(cfg.Site)
	if !ok {
		return nil, fmt.Errorf("unknown site %q", cfg.Site)
	}

	s := &Scraper{
		cfg:          cfg,
		site:         site,
		sessions:     sessions,
		Metrics:      NewMetrics(),
		logger:       slog.Default(),
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run walks every listing in turn and streams normalized records into p in
// discovery order. Without configured listings they are first discovered
// from the site's catalogue. A failed listing does not stop the others.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.ScraperResult{StartTime: time.Now()}
	listings, err := s.listings(ctx, result)
	if err != nil {
		result.EndTime = time.Now()
		result.ErrorsByType = s.snapshotErrors()
		return result, err
	}

	for i, listing := range listings {
		if ctx.Err() != nil {
			break
		}
		summary, err := s.runListing(ctx, i, listing, p, result)
		result.Batches = append(result.Batches, summary)
		if err != nil {
			s.logger.Error("listing batch incomplete",
				slog.String("listing", listing),
				slog.String("batch", summary.ID),
				slog.Any("error", err),
			)
		}
	}

	result.EndTime = time.Now()
	result.ErrorsByType = s.snapshotErrors()
	for _, b := range result.Batches {
		result.TotalCount += b.Succeeded
		result.DuplicateCount += b.Duplicates
		result.ErrorCount += b.Failed
	}
	return result, ctx.Err()
}

// listings returns the configured listings, capped at MaxListings, or walks
// the site's catalogue to discover them.
func (s *Scraper) listings(ctx context.Context, result *models.ScraperResult) ([]string, error) {
	if len(s.cfg.Listings) > 0 {
		listings := s.cfg.Listings
		if s.cfg.MaxListings > 0 && len(listings) > s.cfg.MaxListings {
			listings = listings[:s.cfg.MaxListings]
		}
		return listings, nil
	}
	if s.site.Catalogue == nil {
		return nil, fmt.Errorf("site %s has no catalogue and no listings are configured", s.site.Name)
	}

	entry := s.cfg.CatalogueURL()
	logger := s.logger.With(slog.String("catalogue", entry))
	session, err := s.sessions.NewSession(ctx)
	if err != nil {
		s.recordError("session")
		return nil, fmt.Errorf("open catalogue session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("catalogue session close failed", slog.Any("error", err))
		}
	}()

	traverser, err := NewTraverser(session, *s.site.Catalogue, TraverserOptions{
		MaxPages:     s.cfg.MaxPages,
		MaxItems:     s.cfg.MaxListings,
		PageSize:     s.cfg.PageSize,
		ReadyTimeout: s.cfg.ListingReadyTimeout,
		Logger:       logger,
		Metrics:      s.Metrics,
	})
	if err != nil {
		return nil, err
	}

	outcome, walkErr := traverser.Walk(ctx, entry, nil)
	result.PageCount += outcome.Pages
	s.Metrics.IncTraversal(string(outcome.Stop))
	if walkErr != nil {
		s.recordError(errorTypeLabel(walkErr))
		if len(outcome.Refs) == 0 {
			return nil, fmt.Errorf("discover listings: %w", walkErr)
		}
		logger.Warn("catalogue walk aborted, using listings found so far",
			slog.Int("collected", len(outcome.Refs)),
			slog.Any("error", walkErr),
		)
	}

	listings := make([]string, 0, len(outcome.Refs))
	for _, ref := range outcome.Refs {
		listings = append(listings, ref.URL)
	}
	logger.Info("listings discovered",
		slog.Int("listings", len(listings)),
		slog.String("stop", string(outcome.Stop)),
	)
	return listings, nil
}

func (s *Scraper) runListing(ctx context.Context, index int, listing string, p *pipeline.Pipeline, result *models.ScraperResult) (models.BatchSummary, error) {
	summary := models.BatchSummary{
		ID:         uuid.NewString(),
		Origin:     s.originOf(index, listing),
		ListingURL: listing,
	}
	logger := s.logger.With(slog.String("batch", summary.ID), slog.String("origin", summary.Origin))

	session, err := s.sessions.NewSession(ctx)
	if err != nil {
		summary.StopReason = string(StopError)
		s.recordError("session")
		return summary, fmt.Errorf("open traversal session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("traversal session close failed", slog.Any("error", err))
		}
	}()

	traverser, err := NewTraverser(session, s.site.Listing, TraverserOptions{
		MaxPages:     s.cfg.MaxPages,
		MaxItems:     s.cfg.MaxItemsPerListing,
		PageSize:     s.cfg.PageSize,
		ReadyTimeout: s.cfg.ListingReadyTimeout,
		Logger:       logger,
		Metrics:      s.Metrics,
	})
	if err != nil {
		summary.StopReason = string(StopError)
		return summary, err
	}

	outcome, walkErr := traverser.Walk(ctx, listing, nil)
	summary.Pages = outcome.Pages
	summary.StopReason = string(outcome.Stop)
	result.PageCount += outcome.Pages
	s.Metrics.IncTraversal(string(outcome.Stop))
	if walkErr != nil {
		s.recordError(errorTypeLabel(walkErr))
		if len(outcome.Refs) == 0 {
			return summary, walkErr
		}
		logger.Warn("traversal aborted, fetching collected references",
			slog.Int("collected", len(outcome.Refs)),
			slog.Any("error", walkErr),
		)
	}

	workers := s.workerFactory(ctx, session, logger)
	var limiter *rate.Limiter
	if s.cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), 1)
	}
	executor := NewExecutor(workers, ExecutorOptions{
		Workers:     s.cfg.Workers,
		MaxAttempts: s.cfg.MaxAttempts,
		RetryPause:  s.cfg.RetryPause,
		Limiter:     limiter,
		Logger:      logger,
		Metrics:     s.Metrics,
	})

	ordered := Order(outcome.Refs, executor.Run(ctx, outcome.Refs))
	for _, res := range ordered {
		summary.Attempted++
		result.RetryCount += res.Retries

		if !res.OK {
			s.fail(&summary, res.Ref, res.Kind, res.Err)
			continue
		}

		rec, err := parser.Normalize(s.site.Format, res.Payload, summary.Origin, res.Ref.URL)
		if err != nil {
			nerr := &NormalizationError{Ref: res.Ref, Err: err}
			s.fail(&summary, res.Ref, errorTypeLabel(nerr), nerr.Error())
			continue
		}
		if err := p.Process(rec); err != nil {
			switch {
			case errors.Is(err, pipeline.ErrDuplicateRecord):
				summary.Duplicates++
				logger.Debug("record already exported", slog.String("source_url", rec.SourceURL))
			case errors.Is(err, pipeline.ErrInvalidRecord):
				s.fail(&summary, res.Ref, "invalid_record", err.Error())
			default:
				s.fail(&summary, res.Ref, "pipeline", err.Error())
				if errors.Is(err, pipeline.ErrPipelineClosed) {
					logger.Error("pipeline closed mid-batch", slog.Any("error", err))
				}
			}
			continue
		}
		summary.Succeeded++
		s.Metrics.IncRecords()
	}
	summary.Failed = len(summary.Failures)

	logger.Info("batch finished",
		slog.String("stop", summary.StopReason),
		slog.Int("pages", summary.Pages),
		slog.Int("attempted", summary.Attempted),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("failed", summary.Failed),
	)
	return summary, walkErr
}

// workerFactory picks the fetcher source for a batch. HTTP fetchers reuse
// the traversal session's identity, captured once here.
func (s *Scraper) workerFactory(ctx context.Context, session browser.Session, logger *slog.Logger) WorkerFactory {
	if s.workers != nil {
		return s.workers
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		logger.Warn("could not capture session cookies", slog.Any("error", err))
	}

	userAgent, err := session.UserAgent(ctx)
	if err != nil || userAgent == "" {
		userAgent = s.cfg.UserAgent
	}
	identity := httpfetch.Options{
		UserAgent: userAgent,
		Timeout:   s.cfg.Timeout,
		Cookies:   cookies,
		Transport: s.httpTransport,
	}

	if s.cfg.EffectiveFetchMode() == config.FetchHTTP {
		return &HTTPWorkers{Site: s.site, Options: identity}
	}

	sessions := s.sessions
	if seeder, ok := sessions.(browser.CookieSeeder); ok && len(cookies) > 0 {
		sessions = seeder.WithCookies(cookies)
	}
	return &BrowserWorkers{
		Sessions:       sessions,
		Site:           s.site,
		Export:         identity,
		ReadyTimeout:   s.cfg.DetailReadyTimeout,
		PayloadTimeout: s.cfg.PayloadTimeout,
		Logger:         logger,
	}
}

func (s *Scraper) fail(summary *models.BatchSummary, ref models.ItemReference, kind, reason string) {
	if kind == "" {
		kind = "other"
	}
	summary.Failures = append(summary.Failures, models.Failure{Ref: ref, Kind: kind, Reason: reason})
	s.recordError(kind)
}

func (s *Scraper) recordError(kind string) {
	s.mu.Lock()
	s.errorsByType[kind]++
	s.mu.Unlock()
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

// originOf names a batch. Sites that number their listings get
// "<position>_<listing URL>"; others use the listing's last path segment.
func (s *Scraper) originOf(index int, listing string) string {
	if s.site.OriginByPosition {
		return fmt.Sprintf("%d_%s", index+1, listing)
	}
	return originOf(listing)
}

// originOf names a listing after the last path segment of its URL, falling
// back to the host.
func originOf(listing string) string {
	u, err := url.Parse(listing)
	if err != nil {
		return listing
	}
	if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
		return base
	}
	return u.Host
}
