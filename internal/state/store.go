// Package state holds the dashboard's view of the world: current weather per
// city, forecasts, search results and the loading/error status of the
// requests that produce them.
package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/skyboard/skyboard/internal/weather"
)

// DefaultFreshnessWindow is how long a stored entry counts as fresh.
const DefaultFreshnessWindow = 60 * time.Second

// Fetcher is the provider the store delegates requests to.
type Fetcher interface {
	FetchCurrent(ctx context.Context, q weather.Query) (*weather.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, q weather.Query) (*weather.ForecastBundle, error)
	Search(ctx context.Context, query string) ([]weather.SearchResult, error)
}

// Config holds the store dependencies.
type Config struct {
	Fetcher         Fetcher
	Clock           clock.Clock
	FreshnessWindow time.Duration
	Logger          zerolog.Logger
}

// Store is safe for concurrent use. No lock is held while a fetch is in flight.
type Store struct {
	fetcher Fetcher
	clock   clock.Clock
	window  time.Duration
	logger  zerolog.Logger

	mu            sync.RWMutex
	current       map[string]weather.WeatherSnapshot
	forecasts     map[string]weather.ForecastBundle
	searchResults []weather.SearchResult
	pending       int
	lastError     string
	lastUpdated   map[string]time.Time
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	return &Store{
		fetcher:     cfg.Fetcher,
		clock:       cfg.Clock,
		window:      cfg.FreshnessWindow,
		logger:      cfg.Logger,
		current:     make(map[string]weather.WeatherSnapshot),
		forecasts:   make(map[string]weather.ForecastBundle),
		lastUpdated: make(map[string]time.Time),
	}
}

// freshnessKey matches the dashboard convention: weather records use the bare
// city id, forecast records are prefixed.
func freshnessKey(id string, kind weather.Kind) string {
	if kind == weather.KindForecast {
		return "forecast_" + id
	}
	return id
}

// FetchWeather fetches current conditions and upserts them by city id.
func (s *Store) FetchWeather(ctx context.Context, q weather.Query) (*weather.WeatherSnapshot, error) {
	s.begin()

	snap, err := s.fetcher.FetchCurrent(ctx, q)
	if err != nil {
		s.reject("weather", q, err)
		return nil, err
	}

	s.mu.Lock()
	s.current[snap.ID] = *snap
	s.lastUpdated[freshnessKey(snap.ID, weather.KindWeather)] = s.clock.Now()
	s.pending--
	s.mu.Unlock()

	return snap, nil
}

// FetchForecast fetches a forecast and upserts it by city id.
func (s *Store) FetchForecast(ctx context.Context, q weather.Query) (*weather.ForecastBundle, error) {
	s.begin()

	bundle, err := s.fetcher.FetchForecast(ctx, q)
	if err != nil {
		s.reject("forecast", q, err)
		return nil, err
	}
	if bundle.CityID == "" && q.Coord != nil {
		bundle.CityID = q.Coord.ID()
	}

	s.mu.Lock()
	s.forecasts[bundle.CityID] = *bundle
	s.lastUpdated[freshnessKey(bundle.CityID, weather.KindForecast)] = s.clock.Now()
	s.pending--
	s.mu.Unlock()

	return bundle, nil
}

// SearchCities replaces the search results wholesale.
func (s *Store) SearchCities(ctx context.Context, query string) ([]weather.SearchResult, error) {
	s.begin()

	results, err := s.fetcher.Search(ctx, query)
	if err != nil {
		s.reject("search", weather.ByName(query), err)
		return nil, err
	}

	s.mu.Lock()
	s.searchResults = append([]weather.SearchResult(nil), results...)
	s.pending--
	s.mu.Unlock()

	return results, nil
}

func (s *Store) begin() {
	s.mu.Lock()
	s.lastError = ""
	s.pending++
	s.mu.Unlock()
}

// reject records the failure as the store-wide error. A request its caller
// abandoned is not a provider failure and leaves the error untouched.
func (s *Store) reject(op string, q weather.Query, err error) {
	s.mu.Lock()
	if !errors.Is(err, context.Canceled) {
		s.lastError = err.Error()
	}
	s.pending--
	s.mu.Unlock()

	s.logger.Warn().Err(err).Str("operation", op).Str("query", q.String()).Msg("request rejected")
}

// ClearSearchResults empties the search results.
func (s *Store) ClearSearchResults() {
	s.mu.Lock()
	s.searchResults = nil
	s.mu.Unlock()
}

// ClearError resets the last error.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}

// IsFresh reports whether the entity was updated within the freshness window.
func (s *Store) IsFresh(id string, kind weather.Kind) bool {
	s.mu.RLock()
	at, ok := s.lastUpdated[freshnessKey(id, kind)]
	s.mu.RUnlock()
	return ok && s.clock.Since(at) < s.window
}

// LastUpdated returns when the entity was last stored.
func (s *Store) LastUpdated(id string, kind weather.Kind) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.lastUpdated[freshnessKey(id, kind)]
	return at, ok
}

// Loading reports whether any request is pending.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

// Err returns the last recorded error message, or "".
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Weather returns the stored snapshot for a city.
func (s *Store) Weather(id string) (weather.WeatherSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.current[id]
	return snap, ok
}

// Forecast returns the stored forecast for a city.
func (s *Store) Forecast(id string) (weather.ForecastBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.forecasts[id]
	if !ok {
		return weather.ForecastBundle{}, false
	}
	b.Hourly = append([]weather.HourPoint(nil), b.Hourly...)
	b.Daily = append([]weather.DayAggregate(nil), b.Daily...)
	return b, true
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	CurrentWeather map[string]weather.WeatherSnapshot
	Forecasts      map[string]weather.ForecastBundle
	SearchResults  []weather.SearchResult
	Loading        bool
	Error          string
	LastUpdated    map[string]time.Time
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		CurrentWeather: make(map[string]weather.WeatherSnapshot, len(s.current)),
		Forecasts:      make(map[string]weather.ForecastBundle, len(s.forecasts)),
		SearchResults:  append([]weather.SearchResult(nil), s.searchResults...),
		Loading:        s.pending > 0,
		Error:          s.lastError,
		LastUpdated:    make(map[string]time.Time, len(s.lastUpdated)),
	}
	for id, snap := range s.current {
		out.CurrentWeather[id] = snap
	}
	for id, b := range s.forecasts {
		b.Hourly = append([]weather.HourPoint(nil), b.Hourly...)
		b.Daily = append([]weather.DayAggregate(nil), b.Daily...)
		out.Forecasts[id] = b
	}
	for k, at := range s.lastUpdated {
		out.LastUpdated[k] = at
	}
	return out
}
