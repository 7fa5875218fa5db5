package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crawlkit/market-crawler/internal/browser"
	"github.com/crawlkit/market-crawler/internal/category"
	"github.com/crawlkit/market-crawler/internal/checkpoint"
	"github.com/crawlkit/market-crawler/internal/errs"
	"github.com/crawlkit/market-crawler/internal/events"
	"github.com/crawlkit/market-crawler/internal/memory"
	"github.com/crawlkit/market-crawler/internal/metrics"
	"github.com/crawlkit/market-crawler/internal/output"
	"github.com/crawlkit/market-crawler/internal/result"
	"github.com/crawlkit/market-crawler/internal/site"
)

// Browser is the capability set the category crawler needs from the
// browser layer: content acquisition for site adapters and page memory
// sampling for the chunk size optimizer.
type Browser interface {
	site.Browser
	memory.Sampler
}

// Options tune one category crawl loop.
type Options struct {
	Date                string
	Content             browser.ContentOptions
	StartPage           int
	CategoriesChunkSize int
	ProductsChunkSize   int
	Backoff             result.BackoffConfig
	SaveHTML            bool
	TempDir             string
	HTMLDir             string
	UseCategoryState    bool
	UseProductState     bool
}

// Deps are the collaborators of a CategoryCrawler. Metrics, Events and
// Progress may be nil.
type Deps struct {
	Adapter   site.Adapter
	Browser   Browser
	Store     checkpoint.Store
	Optimizer *memory.Optimizer
	Metrics   *metrics.Metrics
	Events    *events.Publisher
	Progress  *Progress
	Logger    *slog.Logger
}

// CategoryCrawler walks one category's listing pages, extracting products
// in memory-bounded chunks and checkpointing after every page.
type CategoryCrawler struct {
	deps Deps
	opts Options
}

func NewCategoryCrawler(deps Deps, opts Options) *CategoryCrawler {
	if opts.StartPage < 1 {
		opts.StartPage = 1
	}
	if opts.CategoriesChunkSize < 1 {
		opts.CategoriesChunkSize = 1
	}
	if opts.ProductsChunkSize < 1 {
		opts.ProductsChunkSize = 1
	}
	if opts.Backoff.MaxTries == 0 {
		opts.Backoff = result.DefaultBackoff()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &CategoryCrawler{deps: deps, opts: opts}
}

// Crawl processes cat from its checkpoint to exhaustion. It is the
// CrawlFunc plugged into the batch dispatcher.
func (c *CategoryCrawler) Crawl(ctx context.Context, cat category.Category) error {
	sitename := c.deps.Adapter.Sitename()
	logger := c.deps.Logger.With("component", "category_crawler", "category", cat.Name)

	state, err := checkpoint.ResumeCategory(ctx, c.deps.Store, sitename,
		c.opts.Date, cat.Name, c.opts.StartPage, c.opts.UseCategoryState)
	if err != nil {
		return fmt.Errorf("resume category: %w", err)
	}
	if state == nil {
		logger.Info("category already done, skipping")
		return nil
	}

	c.deps.Progress.CategoryStarted(state.Name)
	completed := false
	defer func() { c.deps.Progress.CategoryFinished(state.Name, completed) }()

	logger.Info("category started", "pageno", state.PageNo)
	productsChunkSize := c.opts.ProductsChunkSize
	pagesCrawled := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageURL := c.deps.Adapter.PageURL(cat.URL, state.PageNo)
		doc, empty, err := c.loadListing(ctx, logger, state, pageURL)
		if err != nil {
			return err
		}
		if empty {
			break
		}

		productsChunkSize = c.nextChunkSize(ctx, logger, productsChunkSize)

		if err := c.crawlPage(ctx, logger, cat, state, doc, productsChunkSize); err != nil {
			return err
		}

		c.deps.Metrics.IncPages()
		c.deps.Progress.PageDone()
		pagesCrawled++

		state.PageNo++
		if err := c.saveCategory(ctx, state); err != nil {
			return err
		}
	}

	state.Done = true
	if err := c.saveCategory(ctx, state); err != nil {
		return err
	}
	c.deps.Metrics.IncCategoriesDone()
	completed = true
	logger.Info("category done", "pages", pagesCrawled)
	return nil
}

// loadListing fetches and parses one listing page, retrying timeouts. The
// empty result ends the pagination loop: either the page shows zero
// products or its product list selector is gone entirely.
func (c *CategoryCrawler) loadListing(ctx context.Context, logger *slog.Logger, state *checkpoint.CategoryState, pageURL string) (site.Document, bool, error) {
	html, err := result.WithBackoff(ctx,
		func(ctx context.Context) (string, error) {
			return c.deps.Browser.LoadContent(ctx, pageURL, c.opts.Content)
		},
		c.opts.Backoff,
		[]error{errs.ErrTimeout},
		func(err error, wait time.Duration) {
			c.deps.Metrics.IncRetries()
			logger.Warn("listing page retry", "url", pageURL, "wait", wait, "error", err)
		},
	)
	if err != nil {
		return nil, false, fmt.Errorf("load listing %s: %w", pageURL, err)
	}

	if c.opts.SaveHTML {
		c.snapshotHTML(logger, state, html)
	}

	doc, err := site.ParseHTML(html)
	if err != nil {
		return nil, false, fmt.Errorf("parse listing %s: %w", pageURL, err)
	}

	count, err := c.deps.Adapter.ProductCount(doc)
	if err != nil {
		if errors.Is(err, errs.ErrQueryNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("count products on %s: %w", pageURL, err)
	}
	if count == 0 {
		return nil, true, nil
	}

	logger.Debug("listing page loaded", "pageno", state.PageNo, "products", count)
	return doc, false, nil
}

// crawlPage extracts every product on the listing page in chunks. One
// failed product is recorded and the rest of its chunk proceeds; the
// failure never aborts the page.
func (c *CategoryCrawler) crawlPage(ctx context.Context, logger *slog.Logger, cat category.Category, state *checkpoint.CategoryState, doc site.Document, chunkSize int) error {
	count, err := c.deps.Adapter.ProductCount(doc)
	if err != nil {
		return err
	}

	sink, err := output.NewPageSink(c.opts.TempDir, state.Name, state.PageNo, c.deps.Adapter.Columns())
	if err != nil {
		return err
	}
	defer sink.Close()

	for start := 0; start < count; start += chunkSize {
		end := start + chunkSize
		if end > count {
			end = count
		}

		var g errgroup.Group
		for idx := start; idx < end; idx++ {
			idx := idx
			g.Go(func() error {
				err := c.extractProduct(ctx, cat, state, doc, idx, sink)
				if err == nil {
					return nil
				}
				if ctx.Err() != nil {
					return err
				}
				c.deps.Metrics.IncFailure(errs.Label(err))
				c.deps.Progress.ProductFailed()
				logger.Error("product abandoned",
					"pageno", state.PageNo, "index", idx, "error", err)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	return sink.Close()
}

// extractProduct pulls one product's rows and checkpoints it done. The
// done mark is written only after the sink has flushed the rows, so a
// crash between the two re-extracts instead of losing data.
func (c *CategoryCrawler) extractProduct(ctx context.Context, cat category.Category, state *checkpoint.CategoryState, doc site.Document, idx int, sink output.Sink) error {
	adapter := c.deps.Adapter
	sitename := adapter.Sitename()

	link, err := adapter.ProductLink(doc, idx)
	if err != nil {
		return err
	}
	productID := adapter.ProductID(link)

	pstate, err := checkpoint.ResumeProduct(ctx, c.deps.Store, sitename,
		state.Date, cat.Name, productID, c.opts.UseProductState)
	if err != nil {
		return err
	}
	if pstate == nil {
		c.deps.Metrics.IncSkipped()
		c.deps.Progress.ProductSkipped()
		return nil
	}

	fields, err := result.WithBackoff(ctx,
		func(ctx context.Context) ([]map[string]string, error) {
			return adapter.Extract(ctx, c.deps.Browser, link)
		},
		c.opts.Backoff,
		[]error{errs.ErrTimeout},
		func(err error, wait time.Duration) { c.deps.Metrics.IncRetries() },
	)
	if err != nil {
		return err
	}

	rows := make([]output.Row, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, output.MapRow(f, adapter.Columns()))
	}
	if err := sink.Append(rows...); err != nil {
		return err
	}

	if err := c.publishExtracted(ctx, state, productID, link, len(rows)); err != nil {
		c.deps.Logger.Warn("event publish failed", "product_id", productID, "error", err)
	}

	pstate.Done = true
	if c.opts.UseProductState {
		if err := c.deps.Store.SaveProduct(ctx, pstate); err != nil {
			return err
		}
	}

	c.deps.Metrics.IncExtracted()
	c.deps.Progress.ProductExtracted()
	return nil
}

func (c *CategoryCrawler) publishExtracted(ctx context.Context, state *checkpoint.CategoryState, productID, link string, rows int) error {
	return c.deps.Events.PublishProductExtracted(ctx, &events.ProductExtractedPayload{
		Sitename:  state.Sitename,
		Category:  state.Name,
		Date:      state.Date,
		ProductID: productID,
		URL:       link,
		Rows:      rows,
	})
}

// nextChunkSize recomputes the products chunk size from browser memory.
// The probe is best effort: with no page open to sample (the fetch
// strategy never opens one) the current size stands.
func (c *CategoryCrawler) nextChunkSize(ctx context.Context, logger *slog.Logger, current int) int {
	if c.deps.Optimizer == nil {
		return current
	}

	size, err := c.deps.Optimizer.Optimize(ctx, c.deps.Browser,
		c.opts.CategoriesChunkSize, current)
	if err != nil {
		logger.Debug("chunk size kept", "size", current, "reason", err)
		return current
	}
	if size != current {
		logger.Info("products chunk size adjusted", "from", current, "to", size)
	}
	c.deps.Metrics.SetChunkSize(size)
	return size
}

func (c *CategoryCrawler) saveCategory(ctx context.Context, state *checkpoint.CategoryState) error {
	if !c.opts.UseCategoryState {
		return nil
	}
	if err := c.deps.Store.SaveCategory(ctx, state); err != nil {
		return fmt.Errorf("save category state: %w", err)
	}
	return nil
}

// snapshotHTML writes the raw listing markup for offline selector work.
// Snapshot failures are logged, never fatal.
func (c *CategoryCrawler) snapshotHTML(logger *slog.Logger, state *checkpoint.CategoryState, html string) {
	dir := filepath.Join(c.opts.HTMLDir, state.Date, state.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("html snapshot dir", "error", err)
		return
	}
	path := filepath.Join(dir, strconv.Itoa(state.PageNo)+".html")
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		logger.Warn("html snapshot write", "error", err)
	}
}
