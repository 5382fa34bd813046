package models

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/weather"
)

// Problem is the application/problem+json body (RFC 7807) of every error
// response the dashboard API writes.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"traceId"`

	// RetryAfter mirrors the Retry-After header, in seconds, on throttled
	// responses.
	RetryAfter int `json:"retryAfter,omitempty"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://skyboard.dev/problems/"

// Problem types. The provider-* types describe failures of the weather
// provider; the client-* types describe limits this service enforces itself.
const (
	ProblemTypeValidation          = problemBase + "validation-error"
	ProblemTypeNotFound            = problemBase + "not-found"
	ProblemTypeClientRateLimited   = problemBase + "client-rate-limited"
	ProblemTypeProviderThrottled   = problemBase + "provider-throttled"
	ProblemTypeProviderCredentials = problemBase + "provider-credentials"
	ProblemTypeProviderError       = problemBase + "provider-error"
	ProblemTypeConfiguration       = problemBase + "configuration-error"
	ProblemTypeInternal            = problemBase + "internal-error"
	ProblemTypeUnavailable         = problemBase + "service-unavailable"
	ProblemTypeUnsupportedMedia    = problemBase + "unsupported-media-type"
	ProblemTypeTLSRequired         = problemBase + "tls-required"
)

// NewProblem creates a Problem without detail.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail sets the occurrence-specific explanation.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance sets the request path the problem occurred on.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors attaches rejected fields.
func (p *Problem) WithErrors(errs []FieldError) *Problem {
	p.Errors = errs
	return p
}

// WithRetryAfter sets the number of seconds the client should wait.
func (p *Problem) WithRetryAfter(seconds int) *Problem {
	if seconds > 0 {
		p.RetryAfter = seconds
	}
	return p
}

// Write encodes the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 validation problem.
func NewBadRequest(traceID, detail string, errs []FieldError) *Problem {
	return NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID).
		WithDetail(detail).
		WithErrors(errs)
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID).
		WithDetail(detail)
}

// NewClientRateLimited creates a 429 problem for requests refused by this
// service's own request or admission limits.
func NewClientRateLimited(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeClientRateLimited, "Client rate limit reached", http.StatusTooManyRequests, traceID).
		WithDetail(detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID).
		WithDetail(detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID).
		WithDetail(detail)
}

// NewProviderProblem maps a weather provider error to its problem. The
// provider's user-facing message becomes the detail.
//
//	admission denied 429 client-rate-limited
//	ErrThrottled     429 provider-throttled
//	ErrUnauthorized  502 provider-credentials
//	ErrConfiguration 500 configuration-error
//	ErrInvalidQuery  400 validation-error
//	anything else    502 provider-error
func NewProviderProblem(traceID string, err error) *Problem {
	var p *Problem
	switch {
	case errors.Is(err, ratelimit.ErrAdmissionDenied):
		return NewClientRateLimited(traceID, err.Error())
	case errors.Is(err, weather.ErrThrottled):
		p = NewProblem(ProblemTypeProviderThrottled, "Weather provider throttled", http.StatusTooManyRequests, traceID)
	case errors.Is(err, weather.ErrUnauthorized):
		p = NewProblem(ProblemTypeProviderCredentials, "Weather provider rejected credentials", http.StatusBadGateway, traceID)
	case errors.Is(err, weather.ErrConfiguration):
		p = NewProblem(ProblemTypeConfiguration, "Weather provider not configured", http.StatusInternalServerError, traceID)
	case errors.Is(err, weather.ErrInvalidQuery):
		p = NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID)
	default:
		p = NewProblem(ProblemTypeProviderError, "Weather provider error", http.StatusBadGateway, traceID)
	}
	return p.WithDetail(err.Error())
}
