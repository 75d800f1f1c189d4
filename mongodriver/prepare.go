package mongodriver

import (
	"sync"
	"time"
)

// preparer coalesces schema-extension declarations. Declarations made
// within the same synchronous turn land in one pending set; the first
// insertion schedules a single deferred flush, so each collection costs at
// most one backend round trip per flush no matter how many times it was
// declared.
type preparer struct {
	mu        sync.Mutex
	pending   map[string]struct{}
	scheduled bool
	delay     time.Duration
	flush     func(names []string)
}

func newPreparer(delay time.Duration, flush func(names []string)) *preparer {
	return &preparer{
		pending: make(map[string]struct{}),
		delay:   delay,
		flush:   flush,
	}
}

// Declare queues a collection for preparation.
func (p *preparer) Declare(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[name] = struct{}{}
	if p.scheduled {
		return
	}
	p.scheduled = true
	time.AfterFunc(p.delay, p.run)
}

func (p *preparer) run() {
	p.mu.Lock()
	names := make([]string, 0, len(p.pending))
	for name := range p.pending {
		names = append(names, name)
	}
	p.pending = make(map[string]struct{})
	p.scheduled = false
	p.mu.Unlock()

	if len(names) == 0 {
		return
	}
	p.flush(names)
}
