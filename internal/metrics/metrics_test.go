package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if scraperItemsTotal == nil || scraperJobsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveItem("found", 2*time.Second)
	if val := testutil.ToFloat64(scraperItemsTotal.WithLabelValues("found")); val != 1 {
		t.Errorf("expected scraper_items_total{outcome=found} to be 1, got %f", val)
	}

	ObserveJob("completed")
	if val := testutil.ToFloat64(scraperJobsTotal.WithLabelValues("completed")); val != 1 {
		t.Errorf("expected scraper_jobs_total{status=completed} to be 1, got %f", val)
	}

	IncActiveJobs()
	if val := testutil.ToFloat64(scraperActiveJobs); val != 1 {
		t.Errorf("expected scraper_active_jobs to be 1, got %f", val)
	}
	DecActiveJobs()
	if val := testutil.ToFloat64(scraperActiveJobs); val != 0 {
		t.Errorf("expected scraper_active_jobs to be 0, got %f", val)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/health", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if err := resp.Body.Close(); err != nil {
			t.Log(err)
		}
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("expected http_requests_total for GET 200 to be recorded, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val < 1 {
		t.Errorf("expected http_requests_total for GET 404 to be recorded, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected http_request_duration_seconds to be observed, got %d", val)
	}
}
