package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticOptions configures sessions that fetch server-rendered HTML without
// executing script.
type StaticOptions struct {
	UserAgent string
	Timeout   time.Duration
	// Transport replaces the default HTTP transport, mainly for tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// StaticFactory opens colly-backed sessions. Each session has its own
// collector and cookie jar.
type StaticFactory struct {
	opts StaticOptions
}

// NewStaticFactory returns a factory for static HTML sessions.
func NewStaticFactory(opts StaticOptions) *StaticFactory {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &StaticFactory{opts: opts}
}

// NewSession builds a collector for one session.
func (f *StaticFactory) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(f.opts.UserAgent),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.opts.Timeout)
	if f.opts.Transport != nil {
		collector.WithTransport(f.opts.Transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   f.opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	s := &staticSession{
		collector: collector,
		userAgent: f.opts.UserAgent,
		logger:    f.opts.Logger,
	}
	collector.OnResponse(func(r *colly.Response) {
		s.body = r.Body
		s.loaded = r.Request.URL.String()
	})
	return s, nil
}

type staticSession struct {
	collector *colly.Collector
	userAgent string
	logger    *slog.Logger

	body    []byte
	loaded  string
	current string
	doc     *Document
}

func (s *staticSession) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.body = nil
	s.loaded = ""
	if err := s.collector.Visit(target); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	if s.loaded == "" {
		return fmt.Errorf("navigate %s: empty response", target)
	}

	doc, err := ParseDocument(s.loaded, s.body)
	if err != nil {
		return err
	}
	s.doc = doc
	s.current = s.loaded
	return nil
}

// WaitReady succeeds when selector matches; a static document never changes,
// so the timeout is not waited out.
func (s *staticSession) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	if s.doc == nil {
		return ErrNoPage
	}
	if !s.doc.Has(selector) {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return nil
}

func (s *staticSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if s.doc == nil {
		return ErrNoPage
	}
	if !s.doc.HasVisible(selector) {
		return fmt.Errorf("%w: %s not visible", ErrNotFound, selector)
	}
	return nil
}

func (s *staticSession) Find(ctx context.Context, selector string) ([]Element, error) {
	if s.doc == nil {
		return nil, ErrNoPage
	}
	return s.doc.Find(selector)
}

// Click follows the element's link; there is no script to run.
func (s *staticSession) Click(ctx context.Context, el Element) error {
	href := strings.TrimSpace(el.Href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return fmt.Errorf("%w: %s[%d]", ErrNotActionable, el.Selector, el.Index)
	}
	return s.Navigate(ctx, Resolve(s.current, href))
}

// SelectOption cannot change a server-rendered page without script.
func (s *staticSession) SelectOption(ctx context.Context, el Element, value string) (bool, error) {
	return false, fmt.Errorf("%w: %s[%d] needs script to change", ErrNotActionable, el.Selector, el.Index)
}

func (s *staticSession) Text(ctx context.Context, el Element) (string, error) {
	if s.doc == nil {
		return "", ErrNoPage
	}
	return s.doc.Text(el)
}

func (s *staticSession) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	if s.current == "" {
		return nil, ErrNoPage
	}
	return s.collector.Cookies(s.current), nil
}

func (s *staticSession) UserAgent(ctx context.Context) (string, error) {
	return s.userAgent, nil
}

func (s *staticSession) URL() string {
	return s.current
}

func (s *staticSession) Close() error {
	s.doc = nil
	s.body = nil
	s.logger.Debug("static session closed", slog.String("last_url", s.current))
	return nil
}
