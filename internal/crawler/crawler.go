// Package crawler runs the crawl: batched category dispatch on top of a
// per-category pagination loop with chunked product extraction.
package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/crawlkit/market-crawler/internal/category"
)

// CrawlFunc processes one category to completion.
type CrawlFunc func(ctx context.Context, cat category.Category) error

// ConcurrentCrawler dispatches categories in fixed-size batches. All
// categories of a batch run concurrently and the batch joins before the
// next one starts; a failed category surfaces at the join and ends the run,
// categories already checkpointed stay done.
type ConcurrentCrawler struct {
	Categories    []category.Category
	StartCategory string
	EndCategory   string
	ChunkSize     int
	Crawl         CrawlFunc
	Logger        *slog.Logger
}

// NewSequentialCrawler is the single-category-at-a-time variant used for
// sites that block parallel sessions.
func NewSequentialCrawler(categories []category.Category, crawl CrawlFunc, logger *slog.Logger) *ConcurrentCrawler {
	return &ConcurrentCrawler{
		Categories: categories,
		ChunkSize:  1,
		Crawl:      crawl,
		Logger:     logger,
	}
}

// Run crawls every category in the configured range.
func (c *ConcurrentCrawler) Run(ctx context.Context) error {
	ranged, err := categoriesRange(c.Categories, c.StartCategory, c.EndCategory)
	if err != nil {
		return err
	}

	chunkSize := c.ChunkSize
	if chunkSize < 1 {
		chunkSize = 1
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "crawler")

	for start := 0; start < len(ranged); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + chunkSize
		if end > len(ranged) {
			end = len(ranged)
		}
		batch := ranged[start:end]

		logger.Info("category batch started",
			"from", batch[0].Name, "size", len(batch))

		// Plain group on purpose: a failing category must not cancel its
		// siblings mid-page, their checkpoints stay consistent and the
		// error still surfaces at the join.
		var g errgroup.Group
		for _, cat := range batch {
			cat := cat
			g.Go(func() error {
				if err := c.Crawl(ctx, cat); err != nil {
					return fmt.Errorf("category %s: %w", cat.Name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	return nil
}

// categoriesRange slices categories between two names, inclusive. An empty
// start means the first category, an empty end the last. A name that
// matches nothing is a configuration error.
func categoriesRange(categories []category.Category, start, end string) ([]category.Category, error) {
	from := 0
	to := len(categories) - 1

	if start != "" {
		from = indexOf(categories, start)
		if from < 0 {
			return nil, fmt.Errorf("start category %q not found", start)
		}
	}
	if end != "" {
		to = indexOf(categories, end)
		if to < 0 {
			return nil, fmt.Errorf("end category %q not found", end)
		}
	}
	if from > to {
		return nil, fmt.Errorf("start category %q comes after end category %q", start, end)
	}

	return categories[from : to+1], nil
}

func indexOf(categories []category.Category, name string) int {
	for i, cat := range categories {
		if cat.Name == name {
			return i
		}
	}
	return -1
}
