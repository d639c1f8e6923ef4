// Package httpfetch is the plain HTTP collaborator used for detail and export
// resources that do not need script execution.
package httpfetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d", e.URL, e.Status)
}

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string
	Cookies   []*http.Cookie
	Transport http.RoundTripper
}

// Client performs GET requests with a fixed identity.
type Client struct {
	client *resty.Client
}

// New builds a Client. Cookies and user agent are usually captured from the
// traversal session once per batch.
func New(opts Options) *Client {
	client := resty.New()
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	client.SetHeaders(opts.Headers)
	if len(opts.Cookies) > 0 {
		client.SetCookies(opts.Cookies)
	}
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	return &Client{client: client}
}

// Get fetches url and returns the status and body. Statuses >= 400 are
// returned as *StatusError alongside the body.
func (c *Client) Get(ctx context.Context, url string) (int, string, error) {
	res, err := c.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return 0, "", fmt.Errorf("GET %s: %w", url, err)
	}
	if res.StatusCode() >= http.StatusBadRequest {
		return res.StatusCode(), res.String(), &StatusError{URL: url, Status: res.StatusCode()}
	}
	return res.StatusCode(), res.String(), nil
}
