package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/analysis/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/analysis/{id}", "404"))
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/analysis/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/analysis/{id}", "404"))
	if after-before != 2 {
		t.Fatalf("expected two requests under one route label, got %v", after-before)
	}
}

func TestObserveAI(t *testing.T) {
	before := testutil.ToFloat64(aiRequestsTotal.WithLabelValues(OutcomeTruncated))
	ObserveAI(OutcomeTruncated, 1500*time.Millisecond)
	if got := testutil.ToFloat64(aiRequestsTotal.WithLabelValues(OutcomeTruncated)); got != before+1 {
		t.Fatalf("truncated counter = %v, want %v", got, before+1)
	}
}
