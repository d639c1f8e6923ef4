// Package browser defines the rendering-layer sessions used to walk listings
// and read detail pages, with a headless Chrome backend and a static HTML backend.
package browser

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-reactions/config"
)

var (
	// ErrNotFound is returned when a selector matches nothing before its timeout.
	ErrNotFound = errors.New("browser: element not found")
	// ErrNotActionable is returned when an element cannot be clicked.
	ErrNotActionable = errors.New("browser: element not actionable")
	// ErrNoPage is returned when a session is queried before any navigation.
	ErrNoPage = errors.New("browser: no page loaded")
)

// Element is a snapshot of one DOM element matched by a selector.
type Element struct {
	Selector string
	Index    int
	Href     string
	Text     string
	Attrs    map[string]string
	Visible  bool
	Enabled  bool
}

// Session is one independent rendering session. Sessions are not safe for
// concurrent use; each worker owns its own.
type Session interface {
	Navigate(ctx context.Context, target string) error
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Find(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context, el Element) error
	// SelectOption sets a <select> element to value and reports whether the
	// selection changed. ErrNotActionable means the value is not offered.
	SelectOption(ctx context.Context, el Element, value string) (bool, error)
	Text(ctx context.Context, el Element) (string, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	UserAgent(ctx context.Context) (string, error)
	URL() string
	Close() error
}

// Factory opens sessions.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
}

// CookieSeeder is implemented by factories whose new sessions can start with
// cookies captured elsewhere.
type CookieSeeder interface {
	WithCookies(cookies []*http.Cookie) Factory
}

// FindFirst tries each strategy in order and returns the first element
// accepted by accept. A strategy that finds nothing within its timeout is
// skipped.
func FindFirst(ctx context.Context, s Session, strategies []config.Strategy, accept func(Element) bool) (Element, bool) {
	for _, st := range strategies {
		if err := s.WaitReady(ctx, st.Selector, st.Timeout); err != nil {
			continue
		}
		elements, err := s.Find(ctx, st.Selector)
		if err != nil {
			continue
		}
		for _, el := range elements {
			if accept == nil || accept(el) {
				return el, true
			}
		}
	}
	return Element{}, false
}

// Resolve returns href as an absolute URL relative to base.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
