// Package metrics bundles the Prometheus collectors for the crawler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry          *prometheus.Registry
	PagesCrawled      prometheus.Counter
	ProductsExtracted prometheus.Counter
	ProductsSkipped   prometheus.Counter
	ProductFailures   *prometheus.CounterVec
	CategoriesDone    prometheus.Counter
	RetriesTotal      prometheus.Counter
	ProductsChunkSize prometheus.Gauge
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_pages_crawled_total",
		Help: "Total listing pages processed.",
	})
	extracted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_products_extracted_total",
		Help: "Total products extracted and written.",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_products_skipped_total",
		Help: "Products skipped because their checkpoint was already done.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_product_failures_total",
		Help: "Product extractions abandoned, by error kind.",
	}, []string{"kind"})
	categories := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_categories_done_total",
		Help: "Categories crawled to completion.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_retries_total",
		Help: "Retry attempts scheduled by the backoff layer.",
	})
	chunkSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_products_chunk_size",
		Help: "Current memory-adapted products chunk size.",
	})
	registry.MustRegister(pages, extracted, skipped, failures, categories,
		retries, chunkSize)

	return &Metrics{
		Registry:          registry,
		PagesCrawled:      pages,
		ProductsExtracted: extracted,
		ProductsSkipped:   skipped,
		ProductFailures:   failures,
		CategoriesDone:    categories,
		RetriesTotal:      retries,
		ProductsChunkSize: chunkSize,
	}
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesCrawled.Inc()
}

func (m *Metrics) IncExtracted() {
	if m == nil {
		return
	}
	m.ProductsExtracted.Inc()
}

func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.ProductsSkipped.Inc()
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.ProductFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncCategoriesDone() {
	if m == nil {
		return
	}
	m.CategoriesDone.Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) SetChunkSize(size int) {
	if m == nil {
		return
	}
	m.ProductsChunkSize.Set(float64(size))
}
