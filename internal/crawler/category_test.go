package crawler

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/market-crawler/internal/browser"
	"github.com/crawlkit/market-crawler/internal/category"
	"github.com/crawlkit/market-crawler/internal/checkpoint"
	"github.com/crawlkit/market-crawler/internal/errs"
	"github.com/crawlkit/market-crawler/internal/memory"
	"github.com/crawlkit/market-crawler/internal/metrics"
	"github.com/crawlkit/market-crawler/internal/result"
	"github.com/crawlkit/market-crawler/internal/site"
)

// fakeBrowser serves canned markup by URL and can fail a URL a set number
// of times before succeeding.
type fakeBrowser struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	calls    map[string]int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:    map[string]string{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (f *fakeBrowser) LoadContent(ctx context.Context, url string, opts browser.ContentOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url]++
	if f.failures[url] > 0 {
		f.failures[url]--
		return "", errs.Timeout(url, nil)
	}
	html, ok := f.pages[url]
	if !ok {
		return "", errs.InvalidURL(url, nil)
	}
	return html, nil
}

func (f *fakeBrowser) PageMemories(ctx context.Context) ([]float64, error) {
	return nil, nil
}

func (f *fakeBrowser) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// listingHTML renders a listing page with one product link per id.
func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<li class="p"><a href="/prod/%s">x</a></li>`, id)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

// fakeAdapter drives a tiny market where every product extracts to a
// single row, with per-link error injection.
type fakeAdapter struct {
	mu         sync.Mutex
	extracted  []string
	extractErr map[string]error
}

func (a *fakeAdapter) Sitename() string  { return "testmart" }
func (a *fakeAdapter) Columns() []string { return []string{"name", "price", "url"} }

func (a *fakeAdapter) PageURL(categoryURL string, pageno int) string {
	return fmt.Sprintf("%s?page=%d", categoryURL, pageno)
}

func (a *fakeAdapter) ProductCount(doc site.Document) (int, error) {
	return doc.Count("li.p")
}

func (a *fakeAdapter) ProductLink(doc site.Document, idx int) (string, error) {
	href, err := doc.NthAttr("li.p a", idx, "href")
	if err != nil {
		return "", errs.New(errs.ErrProductLinkNotFound, err)
	}
	return "http://testmart" + href, nil
}

func (a *fakeAdapter) ProductID(link string) string {
	parsed, _ := url.Parse(link)
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	return segments[len(segments)-1]
}

func (a *fakeAdapter) Extract(ctx context.Context, b site.Browser, link string) ([]map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err, ok := a.extractErr[link]; ok {
		return nil, err
	}
	a.extracted = append(a.extracted, link)
	id := a.ProductID(link)
	return []map[string]string{{"name": "n-" + id, "price": "100", "url": link}}, nil
}

func (a *fakeAdapter) extractedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, len(a.extracted))
	for i, link := range a.extracted {
		ids[i] = a.ProductID(link)
	}
	return ids
}

// samplingBrowser reports page memory samples so a real optimizer can run
// against the fake market.
type samplingBrowser struct {
	*fakeBrowser
	memories     []float64
	samplerCalls int
}

func (b *samplingBrowser) PageMemories(ctx context.Context) ([]float64, error) {
	b.samplerCalls++
	return b.memories, nil
}

type fixture struct {
	adapter *fakeAdapter
	browser *fakeBrowser
	store   *checkpoint.FileStore
	crawler *CategoryCrawler
	tempDir string
	logBuf  *bytes.Buffer
	cat     category.Category
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	adapter := &fakeAdapter{extractErr: map[string]error{}}
	b := newFakeBrowser()
	store := checkpoint.NewFileStore(t.TempDir())

	opts.Date = "20260831"
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	opts.UseCategoryState = true
	opts.UseProductState = true
	if opts.Backoff.MaxTries == 0 {
		opts.Backoff = result.BackoffConfig{
			InitialInterval: 1,
			MaxInterval:     1,
			Multiplier:      1,
			MaxTries:        3,
		}
	}

	logBuf := &bytes.Buffer{}
	c := NewCategoryCrawler(Deps{
		Adapter: adapter,
		Browser: b,
		Store:   store,
		Logger:  slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logBuf), nil)),
	}, opts)

	return &fixture{
		adapter: adapter,
		browser: b,
		store:   store,
		crawler: c,
		tempDir: opts.TempDir,
		logBuf:  logBuf,
		cat:     category.Category{Name: "Rods", URL: "http://testmart/rods"},
	}
}

func (f *fixture) servePages(pages ...[]string) {
	for i, ids := range pages {
		f.browser.pages[fmt.Sprintf("%s?page=%d", f.cat.URL, i+1)] = listingHTML(ids...)
	}
	// One empty page past the last ends the pagination loop.
	f.browser.pages[fmt.Sprintf("%s?page=%d", f.cat.URL, len(pages)+1)] = listingHTML()
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCategoryCrawler_CrawlsAllPages(t *testing.T) {
	f := newFixture(t, Options{ProductsChunkSize: 2})
	f.servePages([]string{"p1", "p2"}, []string{"p3"})

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))

	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, f.adapter.extractedIDs())

	rows := readRows(t, filepath.Join(f.tempDir, "Rods_1.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "price", "url"}, rows[0])

	rows = readRows(t, filepath.Join(f.tempDir, "Rods_2.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, "n-p3", rows[1][0])

	state, err := f.store.LoadCategory(context.Background(), "testmart", "20260831", "Rods")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Done)

	pstate, err := f.store.LoadProduct(context.Background(), "testmart", "20260831", "Rods", "p1")
	require.NoError(t, err)
	require.NotNil(t, pstate)
	assert.True(t, pstate.Done)
}

func TestCategoryCrawler_SkipsDoneCategory(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.store.SaveCategory(context.Background(), &checkpoint.CategoryState{
		Sitename: "testmart", Name: "Rods", Date: "20260831", PageNo: 3, Done: true,
	}))

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))
	assert.Empty(t, f.browser.calls)
}

func TestCategoryCrawler_ResumesFromCheckpointedPage(t *testing.T) {
	f := newFixture(t, Options{})
	f.servePages([]string{"p1"}, []string{"p2"})
	require.NoError(t, f.store.SaveCategory(context.Background(), &checkpoint.CategoryState{
		Sitename: "testmart", Name: "Rods", Date: "20260831", PageNo: 2,
	}))

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))

	assert.Zero(t, f.browser.callCount(f.cat.URL+"?page=1"))
	assert.Equal(t, []string{"p2"}, f.adapter.extractedIDs())

	// The completion log counts pages crawled this run, not pages skipped
	// through the checkpoint.
	assert.Contains(t, f.logBuf.String(), "pages=1")
}

func TestCategoryCrawler_SkipsDoneProducts(t *testing.T) {
	f := newFixture(t, Options{})
	f.servePages([]string{"p1", "p2"})
	require.NoError(t, f.store.SaveProduct(context.Background(), &checkpoint.ProductState{
		Sitename: "testmart", Category: "Rods", Date: "20260831", ProductID: "p1", Done: true,
	}))

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))

	assert.Equal(t, []string{"p2"}, f.adapter.extractedIDs())

	rows := readRows(t, filepath.Join(f.tempDir, "Rods_1.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, "n-p2", rows[1][0])
}

func TestCategoryCrawler_ProductFailureDoesNotAbortPage(t *testing.T) {
	f := newFixture(t, Options{ProductsChunkSize: 3})
	f.servePages([]string{"p1", "p2", "p3"})
	f.adapter.extractErr["http://testmart/prod/p2"] = errs.New(errs.ErrProductNameNotFound, nil)

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))

	assert.ElementsMatch(t, []string{"p1", "p3"}, f.adapter.extractedIDs())

	// The failed product stays undone and is retried by the next run.
	pstate, err := f.store.LoadProduct(context.Background(), "testmart", "20260831", "Rods", "p2")
	require.NoError(t, err)
	assert.Nil(t, pstate)

	state, err := f.store.LoadCategory(context.Background(), "testmart", "20260831", "Rods")
	require.NoError(t, err)
	assert.True(t, state.Done)
}

func TestCategoryCrawler_RetriesListingTimeouts(t *testing.T) {
	f := newFixture(t, Options{})
	f.servePages([]string{"p1"})
	pageURL := f.cat.URL + "?page=1"
	f.browser.failures[pageURL] = 2

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))

	assert.Equal(t, 3, f.browser.callCount(pageURL))
	assert.Equal(t, []string{"p1"}, f.adapter.extractedIDs())
}

func TestCategoryCrawler_ListingTimeoutExhaustionFails(t *testing.T) {
	f := newFixture(t, Options{})
	f.servePages([]string{"p1"})
	pageURL := f.cat.URL + "?page=1"
	f.browser.failures[pageURL] = 10

	err := f.crawler.Crawl(context.Background(), f.cat)
	require.ErrorIs(t, err, errs.ErrTimeout)
	assert.Equal(t, 3, f.browser.callCount(pageURL))
}

func TestCategoryCrawler_OptimizerAdjustsChunkSizePerPage(t *testing.T) {
	adapter := &fakeAdapter{extractErr: map[string]error{}}
	fb := newFakeBrowser()
	sb := &samplingBrowser{fakeBrowser: fb, memories: []float64{500}}
	store := checkpoint.NewFileStore(t.TempDir())
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 500 MB pages against a 900 MB budget force the chunk size from 3
	// down to 1.
	opt := memory.NewOptimizer(10, logger,
		memory.WithAvailableMemory(func() (float64, error) { return 4_900, nil }))

	c := NewCategoryCrawler(Deps{
		Adapter:   adapter,
		Browser:   sb,
		Store:     store,
		Optimizer: opt,
		Metrics:   m,
		Logger:    logger,
	}, Options{
		Date:              "20260831",
		TempDir:           t.TempDir(),
		ProductsChunkSize: 3,
		UseCategoryState:  true,
		UseProductState:   true,
		Backoff:           result.BackoffConfig{InitialInterval: 1, MaxInterval: 1, Multiplier: 1, MaxTries: 3},
	})

	cat := category.Category{Name: "Rods", URL: "http://testmart/rods"}
	fb.pages[cat.URL+"?page=1"] = listingHTML("p1", "p2", "p3")
	fb.pages[cat.URL+"?page=2"] = listingHTML("p4")
	fb.pages[cat.URL+"?page=3"] = listingHTML()

	require.NoError(t, c.Crawl(context.Background(), cat))

	// One recomputation per listing page that had products.
	assert.Equal(t, 2, sb.samplerCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProductsChunkSize))
	assert.ElementsMatch(t, []string{"p1", "p2", "p3", "p4"}, adapter.extractedIDs())
}

func TestCategoryCrawler_OptimizerKeepsChunkSizeWithoutOpenPages(t *testing.T) {
	adapter := &fakeAdapter{extractErr: map[string]error{}}
	fb := newFakeBrowser()
	sb := &samplingBrowser{fakeBrowser: fb}
	store := checkpoint.NewFileStore(t.TempDir())
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	c := NewCategoryCrawler(Deps{
		Adapter:   adapter,
		Browser:   sb,
		Store:     store,
		Optimizer: memory.NewOptimizer(10, logger),
		Metrics:   m,
		Logger:    logger,
	}, Options{
		Date:              "20260831",
		TempDir:           t.TempDir(),
		ProductsChunkSize: 3,
		UseCategoryState:  true,
		UseProductState:   true,
		Backoff:           result.BackoffConfig{InitialInterval: 1, MaxInterval: 1, Multiplier: 1, MaxTries: 3},
	})

	cat := category.Category{Name: "Rods", URL: "http://testmart/rods"}
	fb.pages[cat.URL+"?page=1"] = listingHTML("p1", "p2")
	fb.pages[cat.URL+"?page=2"] = listingHTML()

	// No page is open to sample: the probe fails softly, the configured
	// size stands and the page still crawls.
	require.NoError(t, c.Crawl(context.Background(), cat))

	assert.Equal(t, 1, sb.samplerCalls)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProductsChunkSize))
	assert.ElementsMatch(t, []string{"p1", "p2"}, adapter.extractedIDs())
}

func TestCategoryCrawler_SavesHTMLSnapshots(t *testing.T) {
	htmlDir := t.TempDir()
	f := newFixture(t, Options{SaveHTML: true, HTMLDir: htmlDir})
	f.servePages([]string{"p1"})

	require.NoError(t, f.crawler.Crawl(context.Background(), f.cat))

	data, err := os.ReadFile(filepath.Join(htmlDir, "20260831", "Rods", "1.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/prod/p1")
}
