package weather

import "errors"

// Error kinds. Use errors.Is against these to classify a provider failure.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrThrottled     = errors.New("provider rate limit exceeded")
	ErrUnauthorized  = errors.New("provider credential invalid")
	ErrRequestFailed = errors.New("provider request failed")
	ErrInvalidQuery  = errors.New("invalid weather query")
)

// Default user-facing messages.
const (
	MsgMissingAPIKey = "Missing OpenWeatherMap API key. Set OPENWEATHER_API_KEY in your environment or .env file."
	MsgThrottled     = "Rate limit exceeded. Please wait a moment."
	MsgUnauthorized  = "OpenWeatherMap API Unauthorized (401). Check your OPENWEATHER_API_KEY."
	MsgFetchFailed   = "Failed to fetch weather data"
)

// Error is a normalized provider failure. Message is safe to show to users;
// Kind is one of the Err* sentinels above.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewConfigurationError reports a missing or invalid credential.
func NewConfigurationError(message string) *Error {
	if message == "" {
		message = MsgMissingAPIKey
	}
	return &Error{Kind: ErrConfiguration, Message: message}
}

// NewThrottlingError reports that the provider rate-limited us.
func NewThrottlingError(cause error) *Error {
	return &Error{Kind: ErrThrottled, Message: MsgThrottled, Err: cause}
}

// NewAuthorizationError reports a rejected credential.
func NewAuthorizationError(cause error) *Error {
	return &Error{Kind: ErrUnauthorized, Message: MsgUnauthorized, Err: cause}
}

// NewRequestFailure reports any other failure, carrying the provider's own
// message when one was returned.
func NewRequestFailure(providerMessage string, cause error) *Error {
	msg := providerMessage
	if msg == "" {
		msg = MsgFetchFailed
	}
	return &Error{Kind: ErrRequestFailed, Message: msg, Err: cause}
}
