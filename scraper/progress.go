package scraper

import "sync"

// Progress counts completed items in one batch. It is for display only;
// batch completion is signalled by the executor's WaitGroup.
type Progress struct {
	mu        sync.Mutex
	completed int
	total     int
}

// NewProgress returns a counter for total items.
func NewProgress(total int) *Progress {
	return &Progress{total: total}
}

// Increment advances the completed count and returns the new value.
func (p *Progress) Increment() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	return p.completed
}

// Snapshot returns completed and total.
func (p *Progress) Snapshot() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.total
}
