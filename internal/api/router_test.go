package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyboard/skyboard/internal/api"
	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/preferences"
	"github.com/skyboard/skyboard/internal/provider/resilience"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/state"
	"github.com/skyboard/skyboard/internal/weather"
	"github.com/skyboard/skyboard/internal/weather/openweathermap"
	"github.com/skyboard/skyboard/internal/worker"
)

const londonWeather = `{
	"id": 2643743,
	"name": "London",
	"coord": {"lat": 51.5074, "lon": -0.1278},
	"weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}],
	"main": {"temp": 12.3, "feels_like": 11.1, "temp_min": 10.2, "temp_max": 14.0, "pressure": 1012, "humidity": 81},
	"visibility": 9000,
	"wind": {"speed": 5.1, "deg": 240},
	"clouds": {"all": 75},
	"sys": {"country": "GB", "sunrise": 1710483000, "sunset": 1710526000}
}`

const londonForecast = `{
	"city": {"id": 2643743, "name": "London", "country": "GB"},
	"list": [
		{"dt": 1710504000, "main": {"temp": 11.0, "feels_like": 10.0, "humidity": 80}, "weather": [{"description": "overcast clouds", "icon": "04d"}], "wind": {"speed": 4.0}, "clouds": {"all": 90}, "pop": 0.2},
		{"dt": 1710514800, "main": {"temp": 9.0, "feels_like": 8.0, "humidity": 85}, "weather": [{"description": "light rain", "icon": "10n"}], "wind": {"speed": 5.0}, "clouds": {"all": 100}, "pop": 0.65, "rain": {"3h": 1.2}}
	]
}`

const londonSearch = `[{"name": "London", "lat": 51.5073, "lon": -0.1276, "country": "GB", "state": "England"}]`

var london = weather.CityRef{
	ID:      "2643743",
	Name:    "London",
	Country: "GB",
	Coord:   weather.Coordinate{Lat: 51.5074, Lon: -0.1278},
}

type testEnv struct {
	router   http.Handler
	store    *state.Store
	prefs    *preferences.Service
	refresh  *worker.Orchestrator
	clock    *fakeclock.FakeClock
	requests atomic.Int32

	// upstream overrides the fake provider per path when set.
	upstream func(w http.ResponseWriter, r *http.Request) bool
}

func newTestEnv(t *testing.T, limits map[ratelimit.Category]int) *testEnv {
	t.Helper()

	env := &testEnv{clock: fakeclock.NewFakeClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		if env.upstream != nil && env.upstream(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/weather":
			_, _ = io.WriteString(w, londonWeather)
		case "/forecast":
			_, _ = io.WriteString(w, londonForecast)
		case "/geo/direct":
			_, _ = io.WriteString(w, londonSearch)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	logger := zerolog.New(io.Discard)
	registry := resilience.NewRegistry(env.clock)

	httpCfg := resilience.DefaultClientConfig(openweathermap.ProviderName)
	httpCfg.InitialInterval = time.Millisecond
	httpCfg.MaxInterval = 2 * time.Millisecond
	httpCfg.Observer = registry
	httpClient := resilience.NewClient(httpCfg)
	registry.Register(httpClient)

	limiter := ratelimit.New(ratelimit.Config{Limits: limits, Clock: env.clock})
	owm := openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		GeoURL:     server.URL + "/geo",
		HTTPClient: httpClient,
		Limiter:    limiter,
		Clock:      env.clock,
		Logger:     logger,
	})

	env.store = state.New(state.Config{Fetcher: owm, Clock: env.clock, Logger: logger})
	env.prefs = preferences.NewService(preferences.Config{Logger: logger})
	env.refresh = worker.NewOrchestrator(worker.OrchestratorConfig{
		Config:  worker.Config{Defaults: []weather.CityRef{london}},
		Store:   env.store,
		Limiter: limiter,
		Clock:   env.clock,
		Logger:  logger,
	})
	t.Cleanup(env.refresh.Stop)

	env.router = api.NewRouter(api.RouterConfig{
		Version:     "test",
		BuildTime:   "2024-01-01T00:00:00Z",
		Logger:      logger,
		Store:       env.store,
		Preferences: env.prefs,
		Refresh:     env.refresh,
		Limiter:     limiter,
		Providers:   registry,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) loadLondon(t *testing.T) {
	t.Helper()
	_, err := e.store.FetchWeather(context.Background(), weather.ByCoordinate(london.Coord.Lat, london.Coord.Lon))
	require.NoError(t, err)
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessWaitsForFirstCycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/ops/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, models.HealthStatusFail, decode[models.Health](t, w).Status)

	env.refresh.Start(context.Background(), nil)
	require.Eventually(t, func() bool {
		return env.refresh.GetMetrics().Cycles > 0
	}, time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodGet, "/v1/ops/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_SystemStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.loadLondon(t)

	w := env.do(t, http.MethodGet, "/v1/ops/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[models.SystemStatus](t, w)
	assert.Equal(t, models.HealthStatusOK, status.Status)

	require.Len(t, status.Providers, 1)
	assert.Equal(t, openweathermap.ProviderName, status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	assert.NotNil(t, status.Providers[0].LastSuccessAt)

	require.Len(t, status.RateLimits, 3)
	assert.Equal(t, "forecast", status.RateLimits[0].Category)
	assert.Contains(t, status.Refresh, "cycles")
}

func TestRouter_Dashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	env.loadLondon(t)

	w := env.do(t, http.MethodGet, "/v1/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)

	dash := decode[models.Dashboard](t, w)
	assert.Equal(t, "celsius", dash.Unit)
	assert.False(t, dash.Loading)
	assert.Empty(t, dash.Error)
	require.Len(t, dash.Cities, 1)

	city := dash.Cities[0]
	assert.Equal(t, "2643743", city.ID)
	assert.Equal(t, "London", city.Name)
	assert.Equal(t, "12°C", city.Temperature)
	assert.Equal(t, "11°C", city.FeelsLike)
	assert.Equal(t, "SW", city.WindDirection)
	assert.Equal(t, "https://openweathermap.org/img/wn/10d@2x.png", city.IconURL)
	assert.True(t, city.Fresh)
	assert.NotNil(t, city.UpdatedAt)
	assert.False(t, city.IsFavorite)
}

func TestRouter_DashboardUsesPreferredUnit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.loadLondon(t)

	w := env.do(t, http.MethodPost, "/v1/preferences/unit:toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fahrenheit", decode[models.Preferences](t, w).Unit)

	w = env.do(t, http.MethodGet, "/v1/dashboard", "")
	dash := decode[models.Dashboard](t, w)
	assert.Equal(t, "fahrenheit", dash.Unit)
	require.Len(t, dash.Cities, 1)
	assert.Equal(t, "54°F", dash.Cities[0].Temperature)
	assert.Equal(t, "52°F", dash.Cities[0].FeelsLike)
}

func TestRouter_GetWeather(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/weather/2643743", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	env.loadLondon(t)
	w = env.do(t, http.MethodGet, "/v1/weather/2643743", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "London", decode[models.CityWeather](t, w).Name)
}

func TestRouter_GetForecast(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/forecasts/2643743?lat=51.5074&lon=-0.1278", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	forecast := decode[models.Forecast](t, w)
	assert.True(t, forecast.Fetched)
	assert.Equal(t, "2643743", forecast.CityID)
	assert.Equal(t, "London", forecast.CityName)
	require.Len(t, forecast.Hourly, 2)
	assert.Equal(t, 65, forecast.Hourly[1].PrecipitationProbability)
	require.Len(t, forecast.Daily, 1)
	assert.Equal(t, "11°C", forecast.Daily[0].TempMax)
	assert.Equal(t, "9°C", forecast.Daily[0].TempMin)
	assert.Equal(t, int32(1), env.requests.Load())

	// A fresh forecast is served without another fetch.
	w = env.do(t, http.MethodGet, "/v1/forecasts/2643743?lat=51.5074&lon=-0.1278", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Forecast](t, w).Fetched)
	assert.Equal(t, int32(1), env.requests.Load())
}

func TestRouter_GetForecastRequiresCoordinates(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/forecasts/2643743?lat=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	problem := decode[models.Problem](t, w)
	require.Len(t, problem.Errors, 2)
	assert.Equal(t, "lat", problem.Errors[0].Field)
	assert.Equal(t, "lon", problem.Errors[1].Field)
	assert.Zero(t, env.requests.Load())
}

func TestRouter_GetForecastUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/forecast" {
			return false
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"cod": 401, "message": "Invalid API key"}`)
		return true
	}

	w := env.do(t, http.MethodGet, "/v1/forecasts/2643743?lat=51.5074&lon=-0.1278", "")
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, weather.MsgUnauthorized, decode[models.Problem](t, w).Detail)

	w = env.do(t, http.MethodGet, "/v1/dashboard", "")
	assert.Equal(t, weather.MsgUnauthorized, decode[models.Dashboard](t, w).Error)

	w = env.do(t, http.MethodDelete, "/v1/error", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/v1/dashboard", "")
	assert.Empty(t, decode[models.Dashboard](t, w).Error)
}

func TestRouter_GetForecastAdmissionDenied(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Category]int{ratelimit.CategoryForecast: 0})

	w := env.do(t, http.MethodGet, "/v1/forecasts/2643743?lat=51.5074&lon=-0.1278", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	problem := decode[models.Problem](t, w)
	assert.Equal(t, models.ProblemTypeClientRateLimited, problem.Type)
	assert.Equal(t, weather.MsgThrottled, problem.Detail)
	assert.Zero(t, env.requests.Load())
}

func TestRouter_GetForecastByCoordinateID(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Category]int{ratelimit.CategoryForecast: 1})

	// A search result has no provider id yet; its detail view is opened by
	// the lat_lon id while the provider keys the forecast by its own id.
	w := env.do(t, http.MethodGet, "/v1/forecasts/51.5073_-0.1276?lat=51.5073&lon=-0.1276", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	forecast := decode[models.Forecast](t, w)
	assert.Equal(t, "2643743", forecast.CityID)
	assert.Equal(t, "London", forecast.CityName)
	assert.NotNil(t, forecast.UpdatedAt)
	assert.Equal(t, int32(1), env.requests.Load())

	// Reopening is answered from the provider cache and spends no admission.
	w = env.do(t, http.MethodGet, "/v1/forecasts/51.5073_-0.1276?lat=51.5073&lon=-0.1276", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int32(1), env.requests.Load())
}

func TestRouter_Search(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/search?q=Lo", "")
	require.Equal(t, http.StatusOK, w.Code)

	results := decode[models.SearchResults](t, w)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "51.5073_-0.1276", results.Results[0].ID)
	assert.Equal(t, "England", results.Results[0].State)

	w = env.do(t, http.MethodGet, "/v1/dashboard", "")
	assert.Len(t, decode[models.Dashboard](t, w).SearchResults, 1)

	w = env.do(t, http.MethodDelete, "/v1/search", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/v1/dashboard", "")
	assert.Empty(t, decode[models.Dashboard](t, w).SearchResults)
}

func TestRouter_SearchShortQuerySkipsProvider(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Category]int{ratelimit.CategorySearch: 0})

	w := env.do(t, http.MethodGet, "/v1/search?q=L", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.SearchResults](t, w).Results)
	assert.Zero(t, env.requests.Load())
}

func TestRouter_SearchAdmissionDenied(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Category]int{ratelimit.CategorySearch: 1})

	w := env.do(t, http.MethodGet, "/v1/search?q=London", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/search?q=Paris", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, strconv.FormatInt(env.clock.Now().Add(time.Minute).Unix(), 10), w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 60, decode[models.Problem](t, w).RetryAfter)
	assert.Equal(t, int32(1), env.requests.Load())
}

func TestRouter_RepeatedSearchSpendsNoAdmission(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Category]int{ratelimit.CategorySearch: 1})

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodGet, "/v1/search?q=London", "")
		require.Equal(t, http.StatusOK, w.Code, "search %d", i+1)
	}
	assert.Equal(t, int32(1), env.requests.Load())
}

func TestRouter_SelectionRefusedByLimiter(t *testing.T) {
	env := newTestEnv(t, map[ratelimit.Category]int{ratelimit.CategoryWeather: 0})
	env.refresh.Start(context.Background(), nil)

	w := env.do(t, http.MethodPost, "/v1/selection", `{"name":"Paris","country":"FR","lat":48.8566,"lon":2.3522}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, models.ProblemTypeClientRateLimited, decode[models.Problem](t, w).Type)

	// London is already in the working set, so selecting it is free.
	w = env.do(t, http.MethodPost, "/v1/selection", `{"id":"2643743","name":"London","country":"GB","lat":51.5074,"lon":-0.1278}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRouter_SelectionRequiresRunningRefresh(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/selection", `{"name":"Paris","country":"FR","lat":48.8566,"lon":2.3522}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_Selection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.refresh.Start(context.Background(), nil)

	w := env.do(t, http.MethodPost, "/v1/selection", `{"name":"Paris","country":"FR","lat":48.8566,"lon":2.3522}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodPost, "/v1/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRouter_SelectionValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/selection", `{"lat":123,"lon":2.3522}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	problem := decode[models.Problem](t, w)
	fields := make([]string, 0, len(problem.Errors))
	for _, e := range problem.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"name", "lat"}, fields)

	w = env.do(t, http.MethodPost, "/v1/selection", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/preferences/favorites", strings.NewReader("id=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_Favorites(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"id":"2643743","name":"London","country":"GB","lat":51.5074,"lon":-0.1278}`

	w := env.do(t, http.MethodPost, "/v1/preferences/favorites", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/v1/preferences/favorites/2643743", w.Header().Get("Location"))
	require.Len(t, decode[models.Preferences](t, w).Favorites, 1)

	// Duplicate ids are ignored.
	w = env.do(t, http.MethodPost, "/v1/preferences/favorites", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.Preferences](t, w).Favorites, 1)

	env.loadLondon(t)
	w = env.do(t, http.MethodGet, "/v1/dashboard", "")
	dash := decode[models.Dashboard](t, w)
	require.Len(t, dash.Cities, 1)
	assert.True(t, dash.Cities[0].IsFavorite)
	assert.Len(t, dash.Favorites, 1)

	w = env.do(t, http.MethodDelete, "/v1/preferences/favorites/2643743", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/v1/preferences", "")
	require.Equal(t, http.StatusOK, w.Code)
	prefs := decode[models.Preferences](t, w)
	assert.Empty(t, prefs.Favorites)
	assert.Equal(t, "celsius", prefs.Unit)
}

func TestRouter_FavoriteValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/preferences/favorites", `{"id":"x","lat":-91,"lon":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	problem := decode[models.Problem](t, w)
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	assert.NotEmpty(t, problem.Errors)
	assert.Empty(t, env.prefs.Favorites())
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
