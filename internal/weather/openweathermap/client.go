// Package openweathermap implements the weather provider client: a cached,
// request-coalescing wrapper around the OpenWeatherMap current weather,
// 5-day forecast and direct geocoding endpoints.
package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/skyboard/skyboard/internal/provider/resilience"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/telemetry"
	"github.com/skyboard/skyboard/internal/weather"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openweathermap"

	// DefaultBaseURL is the OpenWeatherMap data API base URL.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// DefaultGeoURL is the OpenWeatherMap geocoding API base URL.
	DefaultGeoURL = "https://api.openweathermap.org/geo/1.0"

	// DefaultCacheTTL is how long a response is served without refetching.
	DefaultCacheTTL = 60 * time.Second

	// DefaultMaxStale bounds how long an expired response is kept as a
	// fallback for throttled requests.
	DefaultMaxStale = 30 * time.Minute

	// SearchLimit is the maximum number of geocoding matches returned.
	SearchLimit = 5

	// MinSearchLength is the minimum query length, in runes, sent to the
	// geocoding endpoint.
	MinSearchLength = 2
)

// Operation names used for cache keys, metrics and spans.
const (
	opWeather  = "weather"
	opForecast = "forecast"
	opSearch   = "search"
)

// Metrics receives cache and admission outcomes. *telemetry.ProviderMetrics
// satisfies it.
type Metrics interface {
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
	RecordStaleServed(provider, operation string)
	RecordAdmissionDenied(category string)
}

// Admitter is the client-side rate limiter. *ratelimit.Limiter satisfies it.
type Admitter interface {
	Admit(cat ratelimit.Category) bool
}

// gatedCategories lists the operations that spend limiter admissions.
// Current-weather requests keep the dashboard working set alive and are
// never refused locally; the provider's own 429 still applies to them.
var gatedCategories = map[string]ratelimit.Category{
	opForecast: ratelimit.CategoryForecast,
	opSearch:   ratelimit.CategorySearch,
}

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key. When empty every fetch fails
	// with a configuration error before any network call.
	APIKey string

	// BaseURL is the data API base URL (optional).
	BaseURL string

	// GeoURL is the geocoding API base URL (optional).
	GeoURL string

	// HTTPClient is the resilient transport (optional).
	HTTPClient *resilience.Client

	// CacheTTL defaults to DefaultCacheTTL.
	CacheTTL time.Duration

	// MaxStale defaults to DefaultMaxStale.
	MaxStale time.Duration

	// Location is used to group forecast samples into days. Default UTC.
	Location *time.Location

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Limiter is consulted after a cache miss, before forecast and
	// geocoding requests reach the network. Optional.
	Limiter Admitter

	// Metrics is optional.
	Metrics Metrics

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenWeatherMap API client.
type Client struct {
	apiKey     string
	baseURL    string
	geoURL     string
	httpClient *resilience.Client
	cache      *responseCache
	group      singleflight.Group
	limiter    Admitter
	location   *time.Location
	metrics    Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxStale <= 0 {
		cfg.MaxStale = DefaultMaxStale
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		geoURL:     strings.TrimRight(cfg.GeoURL, "/"),
		httpClient: cfg.HTTPClient,
		cache:      newResponseCache(cfg.Clock, cfg.CacheTTL, cfg.MaxStale),
		limiter:    cfg.Limiter,
		location:   cfg.Location,
		metrics:    cfg.Metrics,
		tracer:     telemetry.Tracer("github.com/skyboard/skyboard/internal/weather/openweathermap"),
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// CacheSize returns the number of cached responses, fresh or stale.
func (c *Client) CacheSize() int {
	return c.cache.len()
}

// FetchCurrent returns current conditions for the queried city.
func (c *Client) FetchCurrent(ctx context.Context, q weather.Query) (*weather.WeatherSnapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	v, err := c.cached(ctx, opWeather, opWeather+":"+q.String(), func(ctx context.Context) (any, error) {
		body, err := c.httpClient.Get(ctx, opWeather, c.dataURL("weather", q))
		if err != nil {
			return nil, err
		}
		var raw currentWeatherResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decoding weather response: %w", err)
		}
		return raw.normalize(), nil
	})
	if err != nil {
		return nil, err
	}

	snap := *v.(*weather.WeatherSnapshot)
	return &snap, nil
}

// FetchForecast returns the hourly and daily forecast for the queried city.
func (c *Client) FetchForecast(ctx context.Context, q weather.Query) (*weather.ForecastBundle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	v, err := c.cached(ctx, opForecast, opForecast+":"+q.String(), func(ctx context.Context) (any, error) {
		body, err := c.httpClient.Get(ctx, opForecast, c.dataURL("forecast", q))
		if err != nil {
			return nil, err
		}
		var raw forecastResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decoding forecast response: %w", err)
		}
		return raw.normalize(c.location), nil
	})
	if err != nil {
		return nil, err
	}

	return cloneBundle(v.(*weather.ForecastBundle)), nil
}

// Search returns up to SearchLimit geocoding matches. Queries shorter than
// MinSearchLength return an empty result without touching the network.
func (c *Client) Search(ctx context.Context, query string) ([]weather.SearchResult, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return []weather.SearchResult{}, nil
	}

	key := opSearch + ":q=" + strings.ToLower(query)
	v, err := c.cached(ctx, opSearch, key, func(ctx context.Context) (any, error) {
		params := url.Values{}
		params.Set("q", query)
		params.Set("limit", strconv.Itoa(SearchLimit))
		params.Set("appid", c.apiKey)

		body, err := c.httpClient.Get(ctx, opSearch, c.geoURL+"/direct?"+params.Encode())
		if err != nil {
			return nil, err
		}
		var raw []geocodingResult
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decoding geocoding response: %w", err)
		}
		return normalizeSearch(raw), nil
	})
	if err != nil {
		return nil, err
	}

	results := v.([]weather.SearchResult)
	out := make([]weather.SearchResult, len(results))
	copy(out, results)
	return out, nil
}

// cached runs the shared cache-then-network flow for one cache key. Only the
// caller that leads a coalesced fetch spends a limiter admission. The fetch
// runs detached from the leader's cancellation so followers still get its
// result; the transport timeout bounds it.
func (c *Client) cached(ctx context.Context, op, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := c.cache.fresh(key); ok {
		c.recordHit(op)
		return v, nil
	}

	if c.apiKey == "" {
		return nil, weather.NewConfigurationError("")
	}
	c.recordMiss(op)

	ctx, span := c.tracer.Start(ctx, "openweathermap."+op,
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if !c.admit(op) {
			return nil, ratelimit.ErrAdmissionDenied
		}
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.cache.set(key, v)
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	}
	span.SetAttributes(attribute.Bool("singleflight.shared", res.Shared))
	v, err := res.Val, res.Err
	if err == nil {
		return v, nil
	}

	if errors.Is(err, resilience.ErrThrottled) || errors.Is(err, ratelimit.ErrAdmissionDenied) {
		if stale, ok := c.cache.stale(key); ok {
			c.logger.Warn().Err(err).Str("key", key).Msg("request throttled, serving cached response")
			if c.metrics != nil {
				c.metrics.RecordStaleServed(ProviderName, op)
			}
			return stale, nil
		}
	}

	perr := classify(err)
	span.RecordError(perr)
	span.SetStatus(codes.Error, perr.Error())
	c.logger.Error().Err(err).Str("operation", op).Str("key", key).Msg("provider fetch failed")
	return nil, perr
}

// admit consults the limiter for gated operations.
func (c *Client) admit(op string) bool {
	cat, gated := gatedCategories[op]
	if !gated || c.limiter == nil || c.limiter.Admit(cat) {
		return true
	}
	if c.metrics != nil {
		c.metrics.RecordAdmissionDenied(string(cat))
	}
	return false
}

func (c *Client) recordHit(op string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ProviderName, op)
	}
}

func (c *Client) recordMiss(op string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ProviderName, op)
	}
}

func (c *Client) dataURL(endpoint string, q weather.Query) string {
	params := url.Values{}
	if q.Coord != nil {
		params.Set("lat", strconv.FormatFloat(q.Coord.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(q.Coord.Lon, 'f', -1, 64))
	} else {
		params.Set("q", strings.TrimSpace(q.Name))
	}
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	return c.baseURL + "/" + endpoint + "?" + params.Encode()
}

// classify maps transport failures onto the weather error taxonomy.
func classify(err error) error {
	var perr *weather.Error
	if errors.As(err, &perr) {
		return perr
	}

	switch {
	case errors.Is(err, resilience.ErrThrottled), errors.Is(err, ratelimit.ErrAdmissionDenied):
		return weather.NewThrottlingError(err)
	case errors.Is(err, resilience.ErrUnauthorized):
		return weather.NewAuthorizationError(err)
	}

	var se *resilience.StatusError
	if errors.As(err, &se) {
		return weather.NewRequestFailure(providerMessage(se.Body), err)
	}
	return weather.NewRequestFailure("", err)
}

// providerMessage extracts the "message" field OpenWeatherMap puts in error
// bodies, e.g. {"cod":"404","message":"city not found"}.
func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Message)
}

func cloneBundle(b *weather.ForecastBundle) *weather.ForecastBundle {
	out := *b
	out.Hourly = append([]weather.HourPoint(nil), b.Hourly...)
	out.Daily = append([]weather.DayAggregate(nil), b.Daily...)
	return &out
}
