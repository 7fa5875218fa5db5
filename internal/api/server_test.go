package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/market-crawler/internal/crawler"
	"github.com/crawlkit/market-crawler/internal/metrics"
)

func testServer(t *testing.T, progress *crawler.Progress) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewServer("127.0.0.1:0", progress, metrics.New(), logger)
}

func TestHealth(t *testing.T) {
	s := testServer(t, crawler.NewProgress())

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	progress := crawler.NewProgress()
	progress.PageDone()
	progress.ProductExtracted()
	progress.ProductExtracted()
	progress.CategoryStarted("Rods")

	s := testServer(t, progress)

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var snap crawler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Pages)
	assert.Equal(t, int64(2), snap.ProductsExtracted)
	assert.Equal(t, []string{"Rods"}, snap.ActiveCategories)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, crawler.NewProgress())

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crawler_pages_crawled_total")
}
