package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-scrape-reactions/browser"
	"github.com/aluiziolira/go-scrape-reactions/httpfetch"
	"github.com/aluiziolira/go-scrape-reactions/models"
	"github.com/aluiziolira/go-scrape-reactions/parser"
)

// ErrMaxRetries is the reason recorded when every attempt for an item failed.
var ErrMaxRetries = errors.New("max retries exceeded")

// ErrNoExportLink is returned when a detail page offers no payload export link.
var ErrNoExportLink = errors.New("no export link on detail page")

// TraversalError aborts the remaining pages of one listing.
type TraversalError struct {
	URL  string
	Page int
	Err  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("traversal page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *TraversalError) Unwrap() error {
	return e.Err
}

// FetchError is one failed attempt at fetching a detail page.
type FetchError struct {
	Ref     models.ItemReference
	Attempt int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s attempt %d: %v", e.Ref.ID, e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NormalizationError marks a fetched payload that produced no record.
type NormalizationError struct {
	Ref models.ItemReference
	Err error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.Ref.ID, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// BatchError wraps a panic recovered inside a worker task.
type BatchError struct {
	Ref   models.ItemReference
	Panic any
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("worker panic on %s: %v", e.Ref.ID, e.Panic)
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var batch *BatchError
	if errors.As(err, &batch) {
		return "panic"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	if errors.Is(err, parser.ErrNoComponents) {
		return "no_components"
	}
	if errors.Is(err, parser.ErrMalformedPayload) {
		return "parse"
	}
	if errors.Is(err, ErrNoExportLink) {
		return "export_missing"
	}
	if errors.Is(err, browser.ErrNotFound) {
		return "element_missing"
	}
	var traversal *TraversalError
	if errors.As(err, &traversal) {
		return "traversal"
	}
	if errors.Is(err, ErrMaxRetries) {
		return "max_retries"
	}
	return "other"
}

// classifyError wraps err in the typed error matching its cause so
// errorTypeLabel can bucket it.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	var statusErr *httpfetch.StatusError
	if statusCode == 0 && errors.As(err, &statusErr) {
		statusCode = statusErr.Status
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	return err
}
