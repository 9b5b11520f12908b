package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesOneJSONObjectPerLine(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerTo(&out)

	logger.Warn("webhook_unsigned", map[string]any{"reason": "no secret", "level": "ignored"})
	logger.Info("server_start", nil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "webhook_unsigned", first["message"])
	assert.Equal(t, "no secret", first["reason"])
	assert.NotEmpty(t, first["timestamp"])
}

func TestNilLoggerAndMetricsAreNoops(t *testing.T) {
	var logger *Logger
	var metrics *Metrics

	assert.NotPanics(t, func() {
		logger.Error("x", nil)
		metrics.RateLimited("general")
		metrics.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	})
	assert.Nil(t, metrics.Registry())
}

func TestRequestLoggingRecordsRoutePattern(t *testing.T) {
	var out bytes.Buffer
	metrics := NewMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/leads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequestLoggingMiddleware(NewLoggerTo(&out), metrics, mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/leads/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "GET /admin/leads/{id}", entry["route"])
	assert.Equal(t, float64(http.StatusNoContent), entry["status"])

	scrape := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `leadcapture_http_requests_total{method="GET",route="GET /admin/leads/{id}",status="204"} 1`)
}

func TestMetricsCountSecurityEvents(t *testing.T) {
	metrics := NewMetrics()
	metrics.RateLimited("leads")
	metrics.RateLimited("leads")
	metrics.CSRFRejected()
	metrics.WebhookDelivery("failed")

	scrape := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := scrape.Body.String()

	assert.Contains(t, body, `leadcapture_rate_limited_total{tier="leads"} 2`)
	assert.Contains(t, body, `leadcapture_csrf_rejected_total 1`)
	assert.Contains(t, body, `leadcapture_webhook_deliveries_total{outcome="failed"} 1`)
}

func TestRecoverMiddlewareReturnsInternalError(t *testing.T) {
	var out bytes.Buffer
	handler := RecoverMiddleware(NewLoggerTo(&out), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/leads", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, out.String(), "panic_recovered")
}

func TestRecoverMiddlewareRepanicsOnAbort(t *testing.T) {
	handler := RecoverMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
