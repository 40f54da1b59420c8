package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agrisense-api/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrument_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/things/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/things/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestInstrument_DefaultStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/plain", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/plain", "200")
	before := testutil.ToFloat64(counter)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/plain", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
