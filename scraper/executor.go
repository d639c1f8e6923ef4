package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-reactions/models"
)

// Fetcher retrieves the raw payload of one detail page. A Fetcher is owned
// by a single worker and never used concurrently.
type Fetcher interface {
	Fetch(ctx context.Context, ref models.ItemReference) (string, error)
	Close() error
}

// WorkerFactory opens the Fetcher a worker uses for its whole lifetime.
type WorkerFactory interface {
	NewWorker(ctx context.Context, id int) (Fetcher, error)
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Workers     int
	MaxAttempts int
	RetryPause  time.Duration
	// Limiter, if set, is shared by all workers of a batch.
	Limiter *rate.Limiter
	Logger  *slog.Logger
	Metrics *Metrics
}

// Executor fetches a batch of references with a fixed number of workers.
type Executor struct {
	factory WorkerFactory
	opts    ExecutorOptions
}

// NewExecutor returns an executor drawing fetchers from factory.
func NewExecutor(factory WorkerFactory, opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{factory: factory, opts: opts}
}

// Run fetches every reference and returns exactly one result per reference,
// in completion order. At most Workers fetches run at once.
func (e *Executor) Run(ctx context.Context, refs []models.ItemReference) []models.FetchResult {
	if len(refs) == 0 {
		return []models.FetchResult{}
	}

	workers := e.opts.Workers
	if workers > len(refs) {
		workers = len(refs)
	}

	jobs := make(chan models.ItemReference, len(refs))
	for _, ref := range refs {
		jobs <- ref
	}
	close(jobs)

	results := make(chan models.FetchResult, len(refs))
	progress := NewProgress(len(refs))

	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.work(ctx, id, jobs, results, progress)
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]models.FetchResult, 0, len(refs))
	for res := range results {
		out = append(out, res)
	}
	return out
}

func (e *Executor) work(ctx context.Context, id int, jobs <-chan models.ItemReference, results chan<- models.FetchResult, progress *Progress) {
	logger := e.opts.Logger.With(slog.Int("worker", id))

	fetcher, err := e.factory.NewWorker(ctx, id)
	if err != nil {
		logger.Error("worker session unavailable", slog.Any("error", err))
		e.opts.Metrics.IncError(errorTypeLabel(classifyError(err, 0)))
		for ref := range jobs {
			results <- e.complete(logger, progress, models.FetchResult{
				Ref:  ref,
				Err:  fmt.Sprintf("session unavailable: %v", err),
				Kind: "session",
			})
		}
		return
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("worker session close failed", slog.Any("error", err))
		}
	}()

	for ref := range jobs {
		results <- e.complete(logger, progress, e.runTask(ctx, logger, fetcher, ref))
	}
}

// runTask converts a panic in the fetcher into a failed result so sibling
// tasks keep running.
func (e *Executor) runTask(ctx context.Context, logger *slog.Logger, fetcher Fetcher, ref models.ItemReference) (res models.FetchResult) {
	attempts := 0
	defer func() {
		if r := recover(); r != nil {
			berr := &BatchError{Ref: ref, Panic: r}
			logger.Error("worker task panicked", slog.String("id", ref.ID), slog.Any("panic", r))
			e.opts.Metrics.IncError("panic")
			res = models.FetchResult{Ref: ref, Err: berr.Error(), Kind: "panic", Retries: max(attempts-1, 0)}
		}
	}()

	var lastErr error
	for attempts < e.opts.MaxAttempts {
		if attempts > 0 {
			e.opts.Metrics.IncRetries()
			if err := pause(ctx, e.opts.RetryPause); err != nil {
				lastErr = err
				break
			}
		}
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		payload, err := e.fetchOnce(ctx, fetcher, ref)
		if err == nil {
			return models.FetchResult{Ref: ref, OK: true, Payload: payload, Retries: attempts - 1}
		}

		lastErr = &FetchError{Ref: ref, Attempt: attempts, Err: classifyError(err, 0)}
		label := errorTypeLabel(lastErr)
		e.opts.Metrics.IncError(label)
		logger.Warn("detail fetch failed",
			slog.String("id", ref.ID),
			slog.Int("attempt", attempts),
			slog.String("category", label),
			slog.Any("error", err),
		)
	}

	return models.FetchResult{
		Ref:     ref,
		Err:     fmt.Errorf("%w: %w", ErrMaxRetries, lastErr).Error(),
		Kind:    errorTypeLabel(lastErr),
		Retries: max(attempts-1, 0),
	}
}

func (e *Executor) fetchOnce(ctx context.Context, fetcher Fetcher, ref models.ItemReference) (string, error) {
	e.opts.Metrics.TrackInFlight(1)
	defer e.opts.Metrics.TrackInFlight(-1)

	start := time.Now()
	defer func() { e.opts.Metrics.ObserveDuration(time.Since(start)) }()

	return fetcher.Fetch(ctx, ref)
}

func (e *Executor) complete(logger *slog.Logger, progress *Progress, res models.FetchResult) models.FetchResult {
	done := progress.Increment()
	_, total := progress.Snapshot()

	outcome := "ok"
	if !res.OK {
		outcome = "failed"
	}
	e.opts.Metrics.IncFetch(outcome)
	logger.Info("detail processed",
		slog.String("progress", fmt.Sprintf("[%d/%d]", done, total)),
		slog.String("id", res.Ref.ID),
		slog.String("outcome", outcome),
		slog.Int("retries", res.Retries),
	)
	return res
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
