// Package browser wraps playwright with the page pool, rate limiting and
// content acquisition strategies the crawl core relies on.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"

	"github.com/crawlkit/market-crawler/internal/errs"
)

// FailureStrategy selects how page content is acquired: Fetch issues a
// plain HTTP request through the browser context, Visit drives a full page
// load with script execution.
type FailureStrategy int

const (
	FailureFetch FailureStrategy = iota
	FailureVisit
)

func (s FailureStrategy) String() string {
	switch s {
	case FailureFetch:
		return "fetch"
	case FailureVisit:
		return "visit"
	}
	return fmt.Sprintf("FailureStrategy(%d)", int(s))
}

// ContentOptions parameterize one content acquisition.
type ContentOptions struct {
	Strategy FailureStrategy
	Timeout  time.Duration
}

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	RateLimit      int // navigation permits per second, shared by all pages
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		TimezoneID:     "Asia/Seoul",
		Locale:         "ko-KR",
		RateLimit:      5,
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.RateLimit < 1 {
		opts.RateLimit = 1
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	ctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:  &opts.UserAgent,
		Locale:     &opts.Locale,
		TimezoneId: &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: b,
		context: ctx,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit),
		timeout: opts.Timeout,
		logger:  logger.With("component", "browser"),
	}, nil
}

// NewPage opens a page in the shared context. The caller owns the page and
// must close it when done.
func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))
	return page, nil
}

// LoadPage opens a page and navigates it to url through the shared rate
// limiter. Deadline overruns surface as taxonomy timeouts so the retry
// layer can consume them.
func (b *Browser) LoadPage(ctx context.Context, url string) (playwright.Page, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
	})
	if err != nil {
		page.Close()
		if isTimeout(err) {
			return nil, errs.Timeout(url, err)
		}
		return nil, errs.InvalidURL(url, err)
	}

	return page, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, playwright.ErrTimeout) ||
		strings.Contains(err.Error(), "Timeout")
}

// LoadContent acquires the markup of url. Fetch goes through the context's
// request API without opening a page; Visit drives a full page load and
// tears the page down before returning.
func (b *Browser) LoadContent(ctx context.Context, url string, opts ContentOptions) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	switch opts.Strategy {
	case FailureFetch:
		return b.fetchContent(url, opts)
	case FailureVisit:
		return b.visitContent(url, opts)
	}
	return "", fmt.Errorf("unknown failure strategy %d", int(opts.Strategy))
}

func (b *Browser) fetchContent(url string, opts ContentOptions) (string, error) {
	timeout := b.timeoutFor(opts)

	resp, err := b.context.Request().Get(url, playwright.APIRequestContextGetOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return "", errs.Timeout(url, err)
		}
		return "", errs.InvalidURL(url, err)
	}

	if !resp.Ok() {
		return "", errs.InvalidURL(url, fmt.Errorf("status %d", resp.Status()))
	}

	body, err := resp.Text()
	if err != nil {
		return "", errs.InvalidURL(url, err)
	}
	return body, nil
}

func (b *Browser) visitContent(url string, opts ContentOptions) (string, error) {
	timeout := b.timeoutFor(opts)

	page, err := b.NewPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return "", errs.Timeout(url, err)
		}
		return "", errs.InvalidURL(url, err)
	}

	content, err := page.Content()
	if err != nil {
		return "", errs.InvalidURL(url, err)
	}
	return content, nil
}

func (b *Browser) timeoutFor(opts ContentOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return b.timeout
}

// PageMemories samples the JS heap of every open page, in megabytes. Pages
// that fail to answer (mid-navigation) are skipped.
func (b *Browser) PageMemories(ctx context.Context) ([]float64, error) {
	pages := b.context.Pages()

	memories := make([]float64, 0, len(pages))
	for idx, page := range pages {
		raw, err := page.Evaluate("() => window.performance.memory.usedJSHeapSize")
		if err != nil {
			continue
		}
		mb := toMegabytes(raw)
		b.logger.Debug("page memory", "page", idx+1, "mb", mb)
		memories = append(memories, mb)
	}

	return memories, nil
}

func toMegabytes(raw any) float64 {
	var bytes float64
	switch v := raw.(type) {
	case float64:
		bytes = v
	case int:
		bytes = float64(v)
	case int64:
		bytes = float64(v)
	}
	return bytes / float64(1<<20)
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
