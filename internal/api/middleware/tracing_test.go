package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyboard/skyboard/internal/api/middleware"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return sr
}

// dashboardRoutes mounts stand-ins for the weather routes behind Tracing.
func dashboardRoutes(status int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing("skyboard-api"))
	reply := func(w http.ResponseWriter, r *http.Request) {
		if !trace.SpanFromContext(r.Context()).SpanContext().IsValid() {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(status)
	}
	r.Get("/v1/dashboard", reply)
	r.Get("/v1/forecasts/{cityId}", reply)
	return r
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_ForecastSpan(t *testing.T) {
	sr := recordSpans(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/forecasts/2643743?lat=51.5074&lon=-0.1278", http.NoBody)
	rec := httptest.NewRecorder()
	dashboardRoutes(http.StatusOK).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "GET /v1/forecasts/{cityId}", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())

	route, _ := spanAttr(span, "http.route")
	assert.Equal(t, "/v1/forecasts/{cityId}", route.AsString())
	city, ok := spanAttr(span, middleware.CityIDAttribute)
	require.True(t, ok)
	assert.Equal(t, "2643743", city.AsString())
	query, _ := spanAttr(span, "url.query")
	assert.Equal(t, "lat=51.5074&lon=-0.1278", query.AsString())
	reqID, _ := spanAttr(span, "request.id")
	assert.Equal(t, rec.Header().Get("X-Request-Id"), reqID.AsString())
}

func TestTracing_DashboardSpanHasNoCity(t *testing.T) {
	sr := recordSpans(t)

	dashboardRoutes(http.StatusOK).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/v1/dashboard", http.NoBody))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	_, ok := spanAttr(spans[0], middleware.CityIDAttribute)
	assert.False(t, ok)
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	sr := recordSpans(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", http.NoBody)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	dashboardRoutes(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
}

func TestTracing_StatusByOutcome(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   codes.Code
	}{
		{"served", http.StatusOK, codes.Unset},
		{"client rate limited", http.StatusTooManyRequests, codes.Unset},
		{"provider failure", http.StatusBadGateway, codes.Error},
		{"orchestrator stopped", http.StatusServiceUnavailable, codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := recordSpans(t)

			dashboardRoutes(tt.status).ServeHTTP(httptest.NewRecorder(),
				httptest.NewRequest(http.MethodGet, "/v1/forecasts/2988507?lat=48.85&lon=2.35", http.NoBody))

			spans := sr.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.want, spans[0].Status().Code)
			code, _ := spanAttr(spans[0], "http.response.status_code")
			assert.Equal(t, int64(tt.status), code.AsInt64())
		})
	}
}
