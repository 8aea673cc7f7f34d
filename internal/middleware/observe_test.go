package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"querypulse/internal/metrics"
)

func TestObserve_RecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Observe(slog.New(slog.DiscardHandler)))
	r.Get("/v1/runs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := metrics.HTTPRequestTotal.WithLabelValues(http.MethodGet, "/v1/runs/{id}", "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 1e-9)
}

func TestObserve_DefaultsStatusToOK(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Observe(slog.New(slog.DiscardHandler)))
	r.Get("/quiet", func(http.ResponseWriter, *http.Request) {})

	counter := metrics.HTTPRequestTotal.WithLabelValues(http.MethodGet, "/quiet", "200")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quiet", nil))
	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 1e-9)
}
