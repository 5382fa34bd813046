// Package response writes the dashboard API's JSON and problem responses.
package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/skyboard/skyboard/internal/api/middleware"
	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/ratelimit"
)

// JSON writes data with the given status. A nil data writes no body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, "", data)
}

// Created writes a 201 with an optional Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	write(w, r, http.StatusCreated, location, data)
}

// Accepted writes a 202 for commands the refresh orchestrator runs
// asynchronously.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	write(w, r, http.StatusAccepted, location, data)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func write(w http.ResponseWriter, r *http.Request, status int, location string, data interface{}) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	if location != "" {
		w.Header().Set("Location", location)
	}
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// Error writes problem for the request's path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.WithInstance(r.URL.Path).Write(w)
}

// BadRequest writes a 400 with the rejected fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errs))
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

// ProviderError writes the problem for a weather provider failure.
func ProviderError(w http.ResponseWriter, r *http.Request, err error) {
	Error(w, r, models.NewProviderProblem(traceID(r), err))
}

// RateLimitInfo is the budget reported on a 429.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	// ResetAt is a Unix timestamp.
	ResetAt int64
	// RetryAfter is in seconds.
	RetryAfter int
}

// InfoFromStatus converts a limiter category status. RetryAfter is rounded
// up so a client never retries before the oldest admission leaves the window.
func InfoFromStatus(st ratelimit.Status) *RateLimitInfo {
	return &RateLimitInfo{
		Limit:      st.Limit,
		Remaining:  st.Remaining,
		ResetAt:    st.ResetAt.Unix(),
		RetryAfter: int(math.Ceil(st.RetryAfter.Seconds())),
	}
}

// TooManyRequestsWithInfo writes a 429 client-rate-limited problem with the
// X-RateLimit-* and Retry-After headers taken from info, when known.
func TooManyRequestsWithInfo(w http.ResponseWriter, r *http.Request, detail string, info *RateLimitInfo) {
	problem := models.NewClientRateLimited(traceID(r), detail)
	if info != nil {
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt, 10))
		if info.RetryAfter > 0 {
			h.Set("Retry-After", strconv.Itoa(info.RetryAfter))
		}
		problem.WithRetryAfter(info.RetryAfter)
	}
	Error(w, r, problem)
}
