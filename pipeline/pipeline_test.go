package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.NormalizedRecord
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(records []*models.NormalizedRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.NormalizedRecord, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) written() []*models.NormalizedRecord {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []*models.NormalizedRecord
	for _, batch := range mw.batches {
		out = append(out, batch...)
	}
	return out
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(records []*models.NormalizedRecord) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(records []*models.NormalizedRecord) error {
	return errors.New("disk full")
}

func (failingWriter) Close() error    { return nil }
func (failingWriter) Validate() error { return nil }

func testRecord(url string) *models.NormalizedRecord {
	return &models.NormalizedRecord{
		Origin:    "dataset-1",
		SourceURL: url,
		Primary:   "CCO>>CC=O",
		Roles: map[string]models.RoleGroup{
			"reactant": {
				Display:    "ethanol",
				Components: []models.Component{{Name: "ethanol", Representation: "CCO", Role: "reactant"}},
			},
		},
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	valid := testRecord("http://example.test/id/ord-1")
	invalid := &models.NormalizedRecord{SourceURL: "http://example.test/id/ord-2"}
	duplicate := testRecord("http://example.test/id/ord-1")

	err := p.Process(valid, invalid, duplicate)
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
	if err := p.Process(testRecord("http://example.test/id/ord-3")); err != nil {
		t.Fatalf("process accepted record: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(writer.written()); got != 2 {
		t.Fatalf("written records = %d, want 2", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate_url"] == 0 {
		t.Fatalf("expected duplicate_url validation error")
	}
	if processed := metrics["processed_records"].(int64); processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
}

func TestPipelineDuplicateRejectedBeforeEnqueue(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig())
	p.Start()

	url := "http://example.test/data/reaction/7"
	if err := p.Process(testRecord(url)); err != nil {
		t.Fatalf("first process: %v", err)
	}
	err := p.Process(testRecord(url))
	if !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("second process = %v, want ErrDuplicateRecord", err)
	}
	if errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("duplicate reported as invalid: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(writer.written()); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}
}

func TestPipelineDedupeIsBounded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DedupeMaxSize = 1
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	// With room for one key, "a" is evicted by "b" and accepted again.
	for _, url := range []string{"http://example.test/a", "http://example.test/b", "http://example.test/a"} {
		if err := p.Process(testRecord(url)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(writer.written()); got != 3 {
		t.Fatalf("written records = %d, want 3", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	for i := 0; i < 65; i++ {
		if err := p.Process(testRecord("http://example.test/id/" + strconv.Itoa(i))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelinePreservesSubmissionOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 7
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	for i := 0; i < 100; i++ {
		if err := p.Process(testRecord("http://example.test/id/" + strconv.Itoa(i+200))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written := writer.written()
	if len(written) != 100 {
		t.Fatalf("written records = %d, want 100", len(written))
	}
	for i, rec := range written {
		want := "http://example.test/id/" + strconv.Itoa(i+200)
		if rec.SourceURL != want {
			t.Fatalf("record %d = %s, want %s", i, rec.SourceURL, want)
		}
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := p.Process(testRecord("http://example.test/late")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineWriteErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	p := NewPipeline(context.Background(), failingWriter{}, cfg)
	p.Start()

	if err := p.Process(testRecord("http://example.test/id/1")); err != nil {
		t.Fatalf("process: %v", err)
	}

	err := p.Close()
	if err == nil {
		t.Fatalf("expected write error from close")
	}
	if p.Err() == nil {
		t.Fatalf("expected Err to report the write failure")
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if err := p.Process(testRecord("http://example.test/id/blocked")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
