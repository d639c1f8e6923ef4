package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures headless Chrome sessions.
type ChromeOptions struct {
	Headless        bool
	UserAgent       string
	NavigateTimeout time.Duration
	// Cookies are injected into every new session before first navigation.
	Cookies []*http.Cookie
	Logger  *slog.Logger
}

// ChromeFactory starts one Chrome process per session.
type ChromeFactory struct {
	opts ChromeOptions
}

// NewChromeFactory returns a factory for chromedp-backed sessions.
func NewChromeFactory(opts ChromeOptions) *ChromeFactory {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ChromeFactory{opts: opts}
}

// WithCookies returns a copy of the factory that seeds sessions with cookies.
func (f *ChromeFactory) WithCookies(cookies []*http.Cookie) Factory {
	opts := f.opts
	opts.Cookies = cookies
	return &ChromeFactory{opts: opts}
}

// NewSession launches a browser and verifies it responds.
func (f *ChromeFactory) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.opts.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(f.opts.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	s := &chromeSession{
		ctx:             browserCtx,
		cancel:          func() { browserCancel(); allocatorCancel() },
		navigateTimeout: f.opts.NavigateTimeout,
		logger:          f.opts.Logger,
	}

	// The first Run starts the browser and must not carry a timeout, or the
	// browser dies with it.
	if err := chromedp.Run(browserCtx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
		s.cancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	if len(f.opts.Cookies) > 0 {
		if err := chromedp.Run(runCtx, setCookies(f.opts.Cookies)); err != nil {
			s.cancel()
			return nil, fmt.Errorf("seed cookies: %w", err)
		}
	}
	return s, nil
}

func setCookies(cookies []*http.Cookie) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for _, c := range cookies {
			if err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HttpOnly).
				Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}
}

type chromeSession struct {
	ctx             context.Context
	cancel          func()
	navigateTimeout time.Duration
	current         string
	logger          *slog.Logger
}

type jsElement struct {
	Index   int               `json:"index"`
	Href    string            `json:"href"`
	Text    string            `json:"text"`
	Visible bool              `json:"visible"`
	Enabled bool              `json:"enabled"`
	Attrs   map[string]string `json:"attrs"`
}

// queryJS resolves a selector the way IsXPath does: XPath through
// document.evaluate, CSS through querySelectorAll.
const queryJS = `const __query = (sel) => {
	const s = sel.trim();
	if (s.startsWith('/') || s.startsWith('(')) {
		const r = document.evaluate(s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
		return out;
	}
	return Array.from(document.querySelectorAll(s));
};`

const findJS = `(() => {
	` + queryJS + `
	return {
		url: location.href,
		items: __query(%s).map((el, i) => ({
			index: i,
			href: el.getAttribute('href') || '',
			text: (el.innerText || el.textContent || '').trim(),
			visible: !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length),
			enabled: !(el.disabled || el.getAttribute('aria-disabled') === 'true' ||
				/disabled/i.test(el.getAttribute('class') || '') || el.closest('.disabled')),
			attrs: Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value]))
		}))
	};
})()`

const clickJS = `(() => {
	` + queryJS + `
	const el = __query(%s)[%d];
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	el.click();
	return true;
})()`

const textJS = `(() => {
	` + queryJS + `
	const el = __query(%s)[%d];
	return el ? {found: true, text: el.textContent || ''} : {found: false, text: ''};
})()`

const selectJS = `(() => {
	` + queryJS + `
	const el = __query(%s)[%d];
	if (!el || !el.options) return 'missing';
	const opt = Array.from(el.options).find(o => o.value === %s);
	if (!opt) return 'missing';
	if (el.value === opt.value) return 'unchanged';
	el.value = opt.value;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return 'changed';
})()`

func queryOption(selector string) chromedp.QueryOption {
	if IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// scope derives a bounded context from the browser context that is also
// cancelled when the caller's ctx is.
func (s *chromeSession) scope(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, target string) error {
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()

	var location string
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.Location(&location),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	s.current = location
	return nil
}

func (s *chromeSession) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	runCtx, cancel := s.scope(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.WaitReady(selector, queryOption(selector))); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, selector, err)
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	runCtx, cancel := s.scope(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, queryOption(selector))); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, selector, err)
	}
	return nil
}

func (s *chromeSession) Find(ctx context.Context, selector string) ([]Element, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()

	var raw struct {
		URL   string      `json:"url"`
		Items []jsElement `json:"items"`
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(findJS, quoted), &raw)); err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	if raw.URL != "" {
		s.current = raw.URL
	}

	out := make([]Element, 0, len(raw.Items))
	for _, el := range raw.Items {
		href := ""
		if el.Href != "" {
			href = el.Href
			if href[0] != '#' {
				href = Resolve(s.current, href)
			}
		}
		out = append(out, Element{
			Selector: selector,
			Index:    el.Index,
			Href:     href,
			Text:     el.Text,
			Attrs:    el.Attrs,
			Visible:  el.Visible,
			Enabled:  el.Enabled,
		})
	}
	return out, nil
}

func (s *chromeSession) Click(ctx context.Context, el Element) error {
	quoted, err := json.Marshal(el.Selector)
	if err != nil {
		return err
	}
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()

	var clicked bool
	var location string
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(clickJS, quoted, el.Index), &clicked),
	); err != nil {
		return fmt.Errorf("click %s[%d]: %w", el.Selector, el.Index, err)
	}
	if !clicked {
		return fmt.Errorf("%w: %s[%d]", ErrNotActionable, el.Selector, el.Index)
	}
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err == nil {
		s.current = location
	}
	return nil
}

func (s *chromeSession) SelectOption(ctx context.Context, el Element, value string) (bool, error) {
	quoted, err := json.Marshal(el.Selector)
	if err != nil {
		return false, err
	}
	quotedValue, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()

	var outcome string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(selectJS, quoted, el.Index, quotedValue), &outcome)); err != nil {
		return false, fmt.Errorf("select %s on %s[%d]: %w", value, el.Selector, el.Index, err)
	}
	switch outcome {
	case "changed":
		return true, nil
	case "unchanged":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s[%d] has no option %q", ErrNotActionable, el.Selector, el.Index, value)
	}
}

func (s *chromeSession) Text(ctx context.Context, el Element) (string, error) {
	quoted, err := json.Marshal(el.Selector)
	if err != nil {
		return "", err
	}
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()

	var res struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf(textJS, quoted, el.Index), &res)); err != nil {
		return "", fmt.Errorf("read text %s[%d]: %w", el.Selector, el.Index, err)
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s[%d]", ErrNotFound, el.Selector, el.Index)
	}
	return res.Text, nil
}

func (s *chromeSession) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	if s.current == "" {
		return nil, ErrNoPage
	}
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()

	var out []*http.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().WithUrls([]string{s.current}).Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HttpOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return out, nil
}

func (s *chromeSession) UserAgent(ctx context.Context) (string, error) {
	runCtx, cancel := s.scope(ctx, s.navigateTimeout)
	defer cancel()
	var ua string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", fmt.Errorf("read user agent: %w", err)
	}
	return ua, nil
}

func (s *chromeSession) URL() string {
	return s.current
}

func (s *chromeSession) Close() error {
	s.cancel()
	s.logger.Debug("browser session closed", slog.String("last_url", s.current))
	return nil
}
