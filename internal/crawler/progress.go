package crawler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress aggregates live run counters for the status API. All methods are
// safe for concurrent use; a nil Progress is a no-op.
type Progress struct {
	startedAt time.Time

	pages             atomic.Int64
	productsExtracted atomic.Int64
	productsSkipped   atomic.Int64
	productsFailed    atomic.Int64
	categoriesDone    atomic.Int64

	mu     sync.Mutex
	active map[string]struct{}
}

func NewProgress() *Progress {
	return &Progress{
		startedAt: time.Now(),
		active:    make(map[string]struct{}),
	}
}

// Snapshot is the JSON shape served by the status endpoint.
type Snapshot struct {
	StartedAt         time.Time `json:"started_at"`
	Uptime            string    `json:"uptime"`
	Pages             int64     `json:"pages"`
	ProductsExtracted int64     `json:"products_extracted"`
	ProductsSkipped   int64     `json:"products_skipped"`
	ProductsFailed    int64     `json:"products_failed"`
	CategoriesDone    int64     `json:"categories_done"`
	ActiveCategories  []string  `json:"active_categories"`
}

func (p *Progress) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}

	p.mu.Lock()
	active := make([]string, 0, len(p.active))
	for name := range p.active {
		active = append(active, name)
	}
	p.mu.Unlock()

	return Snapshot{
		StartedAt:         p.startedAt,
		Uptime:            time.Since(p.startedAt).Round(time.Second).String(),
		Pages:             p.pages.Load(),
		ProductsExtracted: p.productsExtracted.Load(),
		ProductsSkipped:   p.productsSkipped.Load(),
		ProductsFailed:    p.productsFailed.Load(),
		CategoriesDone:    p.categoriesDone.Load(),
		ActiveCategories:  active,
	}
}

func (p *Progress) CategoryStarted(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.active[name] = struct{}{}
	p.mu.Unlock()
}

func (p *Progress) CategoryFinished(name string, done bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, name)
	p.mu.Unlock()
	if done {
		p.categoriesDone.Add(1)
	}
}

func (p *Progress) PageDone() {
	if p == nil {
		return
	}
	p.pages.Add(1)
}

func (p *Progress) ProductExtracted() {
	if p == nil {
		return
	}
	p.productsExtracted.Add(1)
}

func (p *Progress) ProductSkipped() {
	if p == nil {
		return
	}
	p.productsSkipped.Add(1)
}

func (p *Progress) ProductFailed() {
	if p == nil {
		return
	}
	p.productsFailed.Add(1)
}
