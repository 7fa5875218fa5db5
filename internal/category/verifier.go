package category

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/crawlkit/market-crawler/internal/errs"
	"github.com/crawlkit/market-crawler/internal/result"
)

// Verifier checks category URLs with a lightweight GET. Verified URLs are
// cached for a TTL so repeated runs within the window skip the request
// entirely and the origin is not hammered on every restart.
type Verifier struct {
	client  *http.Client
	cache   *expirable.LRU[verifyKey, time.Time]
	limiter *rate.Limiter
	backoff result.BackoffConfig
	logger  *slog.Logger
}

// verifyKey caches per (url, name): two categories sharing a URL under
// different names verify independently.
type verifyKey struct {
	url  string
	name string
}

type VerifierOptions struct {
	TTL       time.Duration
	CacheSize int
	RateLimit int // requests per second
	Timeout   time.Duration
	Backoff   result.BackoffConfig
	Client    *http.Client
}

func NewVerifier(opts VerifierOptions, logger *slog.Logger) *Verifier {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff.MaxTries == 0 {
		opts.Backoff = result.DefaultBackoff()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Verifier{
		client:  client,
		cache:   expirable.NewLRU[verifyKey, time.Time](opts.CacheSize, nil, opts.TTL),
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit),
		backoff: opts.Backoff,
		logger:  logger.With("component", "verifier"),
	}
}

// Verify checks that url answers a successful response. Timeouts and non-2xx
// answers are retried with exponential backoff up to the attempt cap; the
// final failure propagates so the category is not silently dropped.
func (v *Verifier) Verify(ctx context.Context, url, name string) error {
	key := verifyKey{url: url, name: name}
	if _, ok := v.cache.Get(key); ok {
		v.logger.Debug("verification cached", "url", url, "name", name)
		return nil
	}

	_, err := result.WithBackoff(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, v.check(ctx, url, name)
	}, v.backoff, []error{errs.ErrTimeout, errs.ErrInvalidURL}, func(err error, wait time.Duration) {
		v.logger.Warn("backing off", "url", url, "wait", wait, "error", err)
	})
	if err != nil {
		return err
	}

	v.cache.Add(key, time.Now())
	v.logger.Info("verified", "url", url, "name", name)
	return nil
}

func (v *Verifier) check(ctx context.Context, url, name string) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.InvalidURL(url, err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return errs.Timeout(url, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Timeout(url, err)
		}
		// Connector errors usually mean the server is shedding load; treat
		// like a timeout so they get the same backoff.
		return errs.Timeout(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.InvalidURL(url, fmt.Errorf("%s: status %d", name, resp.StatusCode))
	}

	return nil
}

// PurgeCache drops all cached verifications. Exposed for tests.
func (v *Verifier) PurgeCache() {
	v.cache.Purge()
}

// Enumerate reads the site's categories file and concurrently verifies
// every URL. Any verification failure after retries fails the enumeration.
func Enumerate(ctx context.Context, path string, v *Verifier) ([]Category, error) {
	categories, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range categories {
		cat := cat
		g.Go(func() error {
			return v.Verify(gctx, cat.URL, cat.Name)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("verify categories: %w", err)
	}

	return categories, nil
}
