package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tinoosan/vodcache/internal/metrics"
)

func TestMetricsEndpointEmitsFamilies(t *testing.T) {
	// Register collectors and prime a couple of samples
	metrics.Register()
	metrics.DownloadUpdates.WithLabelValues("completed").Inc()
	metrics.TransferDuration.WithLabelValues("complete").Observe(1.5)
	metrics.Deletions.WithLabelValues("deleted").Inc()

	r := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"vodcache_download_updates_total",
		"vodcache_transfer_duration_seconds_count",
		"vodcache_deletions_total",
		"vodcache_active_downloads",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in metrics: %s", want, body)
		}
	}
}
