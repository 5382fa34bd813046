package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/api/response"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/weather"
	"github.com/skyboard/skyboard/internal/worker"
)

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON decodes and validates the request body into dst. It writes a
// 400 problem and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			response.BadRequest(w, r, err.Error(), nil)
			return false
		}
		fieldErrors := make([]models.FieldError, len(verrs))
		for i, fe := range verrs {
			fieldErrors[i] = models.FieldError{
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Code:    fe.Tag(),
			}
		}
		response.BadRequest(w, r, "validation error", fieldErrors)
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// writeError maps domain errors to problem responses. A request refused by
// the outbound admission budget of cat reports that budget in its headers.
func (h *WeatherHandler) writeError(w http.ResponseWriter, r *http.Request, cat ratelimit.Category, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrAdmissionDenied):
		var info *response.RateLimitInfo
		if h.limiter != nil {
			if st, ok := h.limiter.Status(cat); ok {
				info = response.InfoFromStatus(st)
			}
		}
		response.TooManyRequestsWithInfo(w, r, weather.MsgThrottled, info)
	case errors.Is(err, worker.ErrNotRunning):
		response.ServiceUnavailable(w, r, "refresh orchestrator is not running")
	default:
		response.ProviderError(w, r, err)
	}
}
