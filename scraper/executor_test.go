package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-reactions/models"
)

// fakeWorkers hands out fakeFetchers that delegate to fetch.
type fakeWorkers struct {
	fetch     func(ctx context.Context, ref models.ItemReference) (string, error)
	failStart func(id int) bool

	opened   atomic.Int32
	closed   atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeWorkers) NewWorker(ctx context.Context, id int) (Fetcher, error) {
	if f.failStart != nil && f.failStart(id) {
		return nil, fmt.Errorf("browser %d did not start", id)
	}
	f.opened.Add(1)
	return &fakeFetcher{owner: f}, nil
}

func (f *fakeWorkers) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeFetcher struct {
	owner *fakeWorkers
}

func (ff *fakeFetcher) Fetch(ctx context.Context, ref models.ItemReference) (string, error) {
	f := ff.owner
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ref.ID]++
	f.mu.Unlock()

	return f.fetch(ctx, ref)
}

func (ff *fakeFetcher) Close() error {
	ff.owner.closed.Add(1)
	return nil
}

func makeRefs(n int) []models.ItemReference {
	refs := make([]models.ItemReference, n)
	for i := range refs {
		id := fmt.Sprintf("r%02d", i)
		refs[i] = models.ItemReference{ID: id, URL: "http://example.test/reaction/" + id, Rank: i}
	}
	return refs
}

func TestExecutorOneResultPerReference(t *testing.T) {
	workers := &fakeWorkers{
		fetch: func(ctx context.Context, ref models.ItemReference) (string, error) {
			time.Sleep(2 * time.Millisecond)
			return "<reaction/>", nil
		},
	}
	refs := makeRefs(25)

	results := NewExecutor(workers, ExecutorOptions{Workers: 3, MaxAttempts: 2}).Run(context.Background(), refs)

	if len(results) != len(refs) {
		t.Fatalf("results = %d, want %d", len(results), len(refs))
	}
	seen := make(map[string]bool)
	for _, res := range results {
		if seen[res.Ref.ID] {
			t.Fatalf("duplicate result for %s", res.Ref.ID)
		}
		seen[res.Ref.ID] = true
		if !res.OK || res.Payload == "" || res.Err != "" {
			t.Fatalf("unexpected result %+v", res)
		}
		if res.Retries != 0 {
			t.Fatalf("retries = %d, want 0", res.Retries)
		}
	}
	if peak := workers.peak.Load(); peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak)
	}
	if workers.opened.Load() != workers.closed.Load() {
		t.Fatalf("opened %d sessions, closed %d", workers.opened.Load(), workers.closed.Load())
	}
}

func TestExecutorFewerRefsThanWorkers(t *testing.T) {
	workers := &fakeWorkers{
		fetch: func(ctx context.Context, ref models.ItemReference) (string, error) { return "ok", nil },
	}

	results := NewExecutor(workers, ExecutorOptions{Workers: 8, MaxAttempts: 1}).Run(context.Background(), makeRefs(2))

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if opened := workers.opened.Load(); opened > 2 {
		t.Fatalf("opened %d sessions for 2 refs", opened)
	}
}

func TestExecutorEmptyBatch(t *testing.T) {
	workers := &fakeWorkers{}
	results := NewExecutor(workers, ExecutorOptions{Workers: 3}).Run(context.Background(), nil)
	if results == nil || len(results) != 0 {
		t.Fatalf("results = %v, want empty", results)
	}
	if workers.opened.Load() != 0 {
		t.Fatalf("no sessions should open for an empty batch")
	}
}

func TestExecutorRetryBound(t *testing.T) {
	workers := &fakeWorkers{
		fetch: func(ctx context.Context, ref models.ItemReference) (string, error) {
			return "", errors.New("payload never appeared")
		},
	}
	refs := makeRefs(4)

	results := NewExecutor(workers, ExecutorOptions{Workers: 2, MaxAttempts: 2}).Run(context.Background(), refs)

	if len(results) != len(refs) {
		t.Fatalf("results = %d, want %d", len(results), len(refs))
	}
	for _, res := range results {
		if res.OK {
			t.Fatalf("expected failure for %s", res.Ref.ID)
		}
		if !strings.Contains(res.Err, ErrMaxRetries.Error()) {
			t.Fatalf("err = %q, want max retries reason", res.Err)
		}
		if res.Retries != 1 {
			t.Fatalf("retries = %d, want 1", res.Retries)
		}
		if got := workers.callCount(res.Ref.ID); got != 2 {
			t.Fatalf("attempts for %s = %d, want 2", res.Ref.ID, got)
		}
	}
}

func TestExecutorSucceedsOnSecondAttempt(t *testing.T) {
	var mu sync.Mutex
	failed := make(map[string]bool)
	workers := &fakeWorkers{
		fetch: func(ctx context.Context, ref models.ItemReference) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if !failed[ref.ID] {
				failed[ref.ID] = true
				return "", context.DeadlineExceeded
			}
			return "payload", nil
		},
	}

	results := NewExecutor(workers, ExecutorOptions{Workers: 1, MaxAttempts: 2, RetryPause: time.Millisecond}).Run(context.Background(), makeRefs(1))

	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v, want one success", results)
	}
	if results[0].Retries != 1 {
		t.Fatalf("retries = %d, want 1", results[0].Retries)
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	workers := &fakeWorkers{
		fetch: func(ctx context.Context, ref models.ItemReference) (string, error) {
			if ref.ID == "r01" {
				panic("nil element")
			}
			return "payload", nil
		},
	}
	refs := makeRefs(5)

	results := NewExecutor(workers, ExecutorOptions{Workers: 2, MaxAttempts: 2}).Run(context.Background(), refs)

	if len(results) != len(refs) {
		t.Fatalf("results = %d, want %d", len(results), len(refs))
	}
	for _, res := range results {
		if res.Ref.ID == "r01" {
			if res.OK || res.Kind != "panic" || !strings.Contains(res.Err, "nil element") {
				t.Fatalf("panic result = %+v", res)
			}
			continue
		}
		if !res.OK {
			t.Fatalf("sibling %s failed: %s", res.Ref.ID, res.Err)
		}
	}
	if workers.opened.Load() != workers.closed.Load() {
		t.Fatalf("opened %d sessions, closed %d", workers.opened.Load(), workers.closed.Load())
	}
}

func TestExecutorWorkerStartFailure(t *testing.T) {
	workers := &fakeWorkers{
		fetch:     func(ctx context.Context, ref models.ItemReference) (string, error) { return "payload", nil },
		failStart: func(id int) bool { return true },
	}
	refs := makeRefs(6)

	results := NewExecutor(workers, ExecutorOptions{Workers: 2, MaxAttempts: 2}).Run(context.Background(), refs)

	if len(results) != len(refs) {
		t.Fatalf("results = %d, want %d", len(results), len(refs))
	}
	for _, res := range results {
		if res.OK || res.Kind != "session" {
			t.Fatalf("result = %+v, want session failure", res)
		}
	}
}

func TestExecutorPartialWorkerStartFailure(t *testing.T) {
	workers := &fakeWorkers{
		fetch:     func(ctx context.Context, ref models.ItemReference) (string, error) { return "payload", nil },
		failStart: func(id int) bool { return id == 1 },
	}
	refs := makeRefs(10)

	results := NewExecutor(workers, ExecutorOptions{Workers: 2, MaxAttempts: 1}).Run(context.Background(), refs)

	if len(results) != len(refs) {
		t.Fatalf("results = %d, want %d", len(results), len(refs))
	}
	for _, res := range results {
		if !res.OK && res.Kind != "session" {
			t.Fatalf("unexpected failure kind %q", res.Kind)
		}
	}
}

func TestExecutorCancelledContextStillAccountsForEveryRef(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	workers := &fakeWorkers{
		fetch: func(ctx context.Context, ref models.ItemReference) (string, error) { return "", ctx.Err() },
	}
	refs := makeRefs(3)

	results := NewExecutor(workers, ExecutorOptions{Workers: 2, MaxAttempts: 3, RetryPause: time.Hour}).Run(ctx, refs)

	if len(results) != len(refs) {
		t.Fatalf("results = %d, want %d", len(results), len(refs))
	}
	for _, res := range results {
		if res.OK {
			t.Fatalf("expected failure after cancellation")
		}
	}
}
