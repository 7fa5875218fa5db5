// Package memory recomputes the safe products chunk size each page
// iteration from the observed footprint of open browser pages.
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/mem"
)

// Sampler reports the memory footprint of every currently open page, in MB.
type Sampler interface {
	PageMemories(ctx context.Context) ([]float64, error)
}

// systemReserveMB is withheld from available memory for the OS and the
// browser process itself.
const systemReserveMB = 4000

// Optimizer owns the concurrency budget for one category's crawl loop. It
// is transient: recomputed state lives only for the next page iteration.
type Optimizer struct {
	maxProductsChunkSize int
	pageMemory           float64
	memoryUsage          float64
	available            func() (float64, error)
	logger               *slog.Logger
}

// Option overrides Optimizer defaults.
type Option func(*Optimizer)

// WithAvailableMemory replaces the system memory probe. Tests use this to
// pin the budget.
func WithAvailableMemory(fn func() (float64, error)) Option {
	return func(o *Optimizer) { o.available = fn }
}

func NewOptimizer(maxProductsChunkSize int, logger *slog.Logger, opts ...Option) *Optimizer {
	if maxProductsChunkSize < 1 {
		maxProductsChunkSize = 1
	}
	o := &Optimizer{
		maxProductsChunkSize: maxProductsChunkSize,
		available:            availableMemory,
		logger:               logger.With("component", "optimizer"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ceiling returns the configured upper bound for the products chunk size.
func (o *Optimizer) Ceiling() int { return o.maxProductsChunkSize }

// Optimize returns the products chunk size to use for the next page
// iteration. The result is always within [1, ceiling]. It fails when no
// page is open to sample.
func (o *Optimizer) Optimize(ctx context.Context, sampler Sampler, categoriesChunkSize, productsChunkSize int) (int, error) {
	if productsChunkSize < 1 {
		o.logger.Debug("products chunk size clamped to 1", "was", productsChunkSize)
		productsChunkSize = 1
	}
	if categoriesChunkSize < 1 {
		o.logger.Debug("categories chunk size clamped to 1", "was", categoriesChunkSize)
		categoriesChunkSize = 1
	}

	memories, err := sampler.PageMemories(ctx)
	if err != nil {
		return productsChunkSize, fmt.Errorf("sample page memories: %w", err)
	}
	if len(memories) == 0 {
		return productsChunkSize, fmt.Errorf("no page is open to sample")
	}

	// The largest open page is the conservative per-page estimate.
	o.pageMemory = memories[0]
	for _, m := range memories[1:] {
		if m > o.pageMemory {
			o.pageMemory = m
		}
	}

	concurrentPages := productsChunkSize * categoriesChunkSize
	o.memoryUsage = o.pageMemory * float64(concurrentPages)

	available, err := o.available()
	if err != nil {
		return productsChunkSize, fmt.Errorf("read available memory: %w", err)
	}
	budget := available - systemReserveMB

	o.logger.Debug("memory projection",
		"page_mb", o.pageMemory,
		"concurrent_pages", concurrentPages,
		"projected_mb", o.memoryUsage,
		"budget_mb", budget)

	for o.memoryUsage >= budget && productsChunkSize > 1 {
		productsChunkSize--
		o.memoryUsage = o.pageMemory * float64(productsChunkSize*categoriesChunkSize)
	}

	for o.memoryUsage < budget && productsChunkSize < o.maxProductsChunkSize {
		if o.pageMemory <= 0 {
			productsChunkSize = o.maxProductsChunkSize
			break
		}
		headroom := budget - o.memoryUsage
		extra := int(headroom / o.pageMemory / float64(categoriesChunkSize))
		if extra < 1 {
			break
		}
		productsChunkSize += extra
		if productsChunkSize > o.maxProductsChunkSize {
			productsChunkSize = o.maxProductsChunkSize
		}
		o.memoryUsage = o.pageMemory * float64(productsChunkSize*categoriesChunkSize)
	}

	if productsChunkSize > o.maxProductsChunkSize {
		productsChunkSize = o.maxProductsChunkSize
	}
	if productsChunkSize < 1 {
		productsChunkSize = 1
	}

	o.logger.Debug("new products chunk size", "size", productsChunkSize)
	return productsChunkSize, nil
}

// availableMemory returns the system's available memory in MB.
func availableMemory() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return float64(vm.Available) / float64(1<<20), nil
}
