package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyboard/skyboard/internal/provider/resilience"
)

func fastConfig(name string) resilience.ClientConfig {
	cfg := resilience.DefaultClientConfig(name)
	cfg.InitialInterval = 5 * time.Millisecond
	cfg.MaxInterval = 10 * time.Millisecond
	return cfg
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test"))

	body, err := client.Get(context.Background(), "weather", server.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestClient_RetryOn5xx(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test-retry"))

	_, err := client.Get(context.Background(), "weather", server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load(), "should have retried until success")
}

func TestClient_5xxExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test-exhaust"))

	_, err := client.Get(context.Background(), "weather", server.URL)
	require.Error(t, err)

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, int32(3), attempts.Load(), "one attempt plus two retries")
}

func TestClient_ThrottledNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"cod":429,"message":"slow down"}`))
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test-429"))

	_, err := client.Get(context.Background(), "weather", server.URL)
	require.ErrorIs(t, err, resilience.ErrThrottled)
	assert.NotErrorIs(t, err, resilience.ErrUnauthorized)
	assert.Equal(t, int32(1), attempts.Load())

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, string(se.Body), "slow down")
}

func TestClient_UnauthorizedNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test-401"))

	_, err := client.Get(context.Background(), "weather", server.URL)
	require.ErrorIs(t, err, resilience.ErrUnauthorized)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_4xxDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test-4xx-breaker"))

	for i := 0; i < 10; i++ {
		_, err := client.Get(context.Background(), "weather", server.URL)
		require.ErrorIs(t, err, resilience.ErrThrottled)
	}

	assert.Equal(t, gobreaker.StateClosed, client.CircuitBreakerState())
	assert.Zero(t, client.CircuitBreakerCounts().TotalFailures)
}

func TestClient_CircuitBreakerTrips(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cbConfig := resilience.CircuitBreakerConfig{
		Name:        "test-trip",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	cfg := fastConfig("test-trip")
	cfg.CircuitBreaker = &cbConfig
	client := resilience.NewClient(cfg)

	// Three attempts (initial plus two retries) trip the breaker.
	_, err := client.Get(context.Background(), "weather", server.URL)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	before := attempts.Load()
	_, err = client.Get(context.Background(), "weather", server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, attempts.Load(), "open circuit must not reach the server")
}

func TestClient_TimeoutHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("test-timeout")
	cfg.Timeout = 50 * time.Millisecond
	client := resilience.NewClient(cfg)

	_, err := client.Get(context.Background(), "weather", server.URL)
	assert.Error(t, err, "should timeout")
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("test-cancel"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "weather", server.URL)
	assert.Error(t, err, "should be canceled")
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (o *recordingObserver) RecordRequest(provider, operation string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, provider+"/"+operation)
	o.errs = append(o.errs, err)
}

func TestClient_ObserverNotified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	obs := &recordingObserver{}
	cfg := fastConfig("owm")
	cfg.Observer = obs
	client := resilience.NewClient(cfg)

	_, err := client.Get(context.Background(), "weather", server.URL+"/ok")
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "forecast", server.URL+"/fail")
	require.Error(t, err)

	assert.Equal(t, []string{"owm/weather", "owm/forecast"}, obs.calls)
	assert.NoError(t, obs.errs[0])
	assert.True(t, errors.Is(obs.errs[1], resilience.ErrUnauthorized))
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name     string
		counts   gobreaker.Counts
		expected bool
	}{
		{
			name:     "few requests",
			counts:   gobreaker.Counts{Requests: 4, TotalFailures: 4, ConsecutiveFailures: 4},
			expected: false,
		},
		{
			name:     "five consecutive failures",
			counts:   gobreaker.Counts{Requests: 5, TotalFailures: 5, ConsecutiveFailures: 5},
			expected: true,
		},
		{
			name:     "enough requests but low failure rate",
			counts:   gobreaker.Counts{Requests: 10, TotalFailures: 5, ConsecutiveFailures: 1},
			expected: false,
		},
		{
			name:     "enough requests and high failure rate",
			counts:   gobreaker.Counts{Requests: 10, TotalFailures: 6, ConsecutiveFailures: 2},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("openweathermap")

	assert.Equal(t, "openweathermap", cfg.Name)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(2), cfg.MaxRetries)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.Timeout)
}

func TestStatusError(t *testing.T) {
	err := &resilience.StatusError{StatusCode: http.StatusInternalServerError}
	assert.Contains(t, err.Error(), "Internal Server Error")
	assert.NotErrorIs(t, err, resilience.ErrThrottled)
}
