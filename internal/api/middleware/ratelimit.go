package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/skyboard/skyboard/internal/api/models"
)

// RateLimitConfig bounds how often one client IP may call a group of routes.
// These limits protect the service itself; outbound provider calls are
// budgeted separately by the ratelimit package.
type RateLimitConfig struct {
	// Group names the routes in the 429 detail, e.g. "search".
	Group        string
	RequestLimit int
	WindowLength time.Duration
}

var (
	// CommandRateLimit covers selection and refresh, which start provider fetches.
	CommandRateLimit = RateLimitConfig{Group: "command", RequestLimit: 20, WindowLength: time.Minute}

	// SearchRateLimit covers the geocoding search.
	SearchRateLimit = RateLimitConfig{Group: "search", RequestLimit: 60, WindowLength: time.Minute}

	// StandardRateLimit covers reads served from the weather store.
	StandardRateLimit = RateLimitConfig{Group: "read", RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimitByIP limits requests per client IP (X-Forwarded-For aware).
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

// limitExceeded writes a client-rate-limited problem. httprate has already
// set the X-RateLimit-* and Retry-After headers; the body repeats the retry
// hint for clients that only read JSON.
func limitExceeded(cfg RateLimitConfig) http.HandlerFunc {
	detail := fmt.Sprintf("Too many %s requests: %d per %s allowed.", cfg.Group, cfg.RequestLimit, cfg.WindowLength)
	return func(w http.ResponseWriter, r *http.Request) {
		retryAfter, _ := strconv.Atoi(w.Header().Get("Retry-After"))
		models.NewClientRateLimited(GetRequestID(r.Context()), detail).
			WithRetryAfter(retryAfter).
			WithInstance(r.URL.Path).
			Write(w)
	}
}
