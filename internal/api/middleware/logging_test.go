package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyboard/skyboard/internal/api/middleware"
)

// loggedRoutes mounts stand-ins for the ops and weather routes behind
// RequestID, Tracing and Logger, in router order.
func loggedRoutes(buf *bytes.Buffer, status int) http.Handler {
	log := zerolog.New(buf).Level(zerolog.DebugLevel)
	reply := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing("skyboard-api"))
	r.Use(middleware.Logger(log))
	r.Get("/v1/ops/health", reply)
	r.Get("/v1/dashboard", reply)
	r.Get("/v1/forecasts/{cityId}", reply)
	return r
}

func logEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestLogger_ForecastRequest(t *testing.T) {
	recordSpans(t)
	var buf bytes.Buffer

	req := httptest.NewRequest(http.MethodGet, "/v1/forecasts/2643743?lat=51.5074&lon=-0.1278", http.NoBody)
	req.Header.Set("User-Agent", "skyboard-web/1.4")
	rec := httptest.NewRecorder()
	loggedRoutes(&buf, http.StatusOK).ServeHTTP(rec, req)

	entry := logEntry(t, &buf)
	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/v1/forecasts/2643743", entry["path"])
	assert.Equal(t, "/v1/forecasts/{cityId}", entry["route"])
	assert.Equal(t, "2643743", entry["city_id"])
	assert.Equal(t, "ok", entry["outcome"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(len(`{"status":"ok"}`)), entry["bytes"])
	assert.Equal(t, "skyboard-web/1.4", entry["user_agent"])
	assert.Equal(t, rec.Header().Get("X-Request-Id"), entry["request_id"])
	assert.Len(t, entry["trace_id"], 32)
	assert.Len(t, entry["span_id"], 16)
}

func TestLogger_LevelByOutcome(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		status  int
		level   string
		outcome string
	}{
		{"dashboard read", "/v1/dashboard", http.StatusOK, "info", "ok"},
		{"health check", "/v1/ops/health", http.StatusOK, "debug", "ok"},
		{"failing health check", "/v1/ops/health", http.StatusServiceUnavailable, "error", "server_error"},
		{"unknown city", "/v1/forecasts/nowhere", http.StatusNotFound, "warn", "client_error"},
		{"throttled", "/v1/forecasts/2643743", http.StatusTooManyRequests, "warn", "throttled"},
		{"provider failure", "/v1/forecasts/2643743", http.StatusBadGateway, "error", "provider_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			loggedRoutes(&buf, tt.status).ServeHTTP(httptest.NewRecorder(),
				httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			entry := logEntry(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.outcome, entry["outcome"])
		})
	}
}

func TestLogger_OmitsTraceWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/dashboard", http.NoBody))

	entry := logEntry(t, &buf)
	assert.Equal(t, float64(200), entry["status"])
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "city_id")
}
