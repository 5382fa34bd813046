package handler

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/api/response"
	"github.com/skyboard/skyboard/internal/preferences"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/state"
	"github.com/skyboard/skyboard/internal/weather"
	"github.com/skyboard/skyboard/internal/worker"
)

// WeatherConfig holds the dependencies of WeatherHandler.
type WeatherConfig struct {
	Store       *state.Store
	Preferences *preferences.Service
	Refresh     *worker.Orchestrator
	Limiter     *ratelimit.Limiter

	// Location is used to render clock times and dates. Default: UTC.
	Location *time.Location
}

// WeatherHandler serves the dashboard, detail and search endpoints.
type WeatherHandler struct {
	store   *state.Store
	prefs   *preferences.Service
	refresh *worker.Orchestrator
	limiter *ratelimit.Limiter
	loc     *time.Location
}

// NewWeatherHandler creates a new WeatherHandler.
func NewWeatherHandler(cfg WeatherConfig) *WeatherHandler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &WeatherHandler{
		store:   cfg.Store,
		prefs:   cfg.Preferences,
		refresh: cfg.Refresh,
		limiter: cfg.Limiter,
		loc:     loc,
	}
}

// Dashboard handles GET /v1/dashboard - every loaded city plus UI state.
func (h *WeatherHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	unit := h.prefs.TemperatureUnit()

	cities := make([]models.CityWeather, 0, len(snap.CurrentWeather))
	for _, s := range sortedSnapshots(snap.CurrentWeather) {
		v := cityWeatherView(s, unit, h.loc)
		v.IsFavorite = h.prefs.IsFavorite(s.ID)
		v.Fresh = h.store.IsFresh(s.ID, weather.KindWeather)
		if at, ok := h.store.LastUpdated(s.ID, weather.KindWeather); ok {
			v.UpdatedAt = models.TimestampPtr(at)
		}
		cities = append(cities, v)
	}

	response.JSON(w, r, http.StatusOK, models.Dashboard{
		Unit:          string(unit),
		Loading:       snap.Loading,
		Error:         snap.Error,
		Cities:        cities,
		SearchResults: searchResultViews(snap.SearchResults, h.prefs.IsFavorite),
		Favorites:     favoriteViews(h.prefs.Favorites()),
	})
}

// GetWeather handles GET /v1/weather/{cityId} - one city's current weather.
func (h *WeatherHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	cityID := chi.URLParam(r, "cityId")
	s, ok := h.store.Weather(cityID)
	if !ok {
		response.NotFound(w, r, "no weather loaded for city "+cityID)
		return
	}

	v := cityWeatherView(s, h.prefs.TemperatureUnit(), h.loc)
	v.IsFavorite = h.prefs.IsFavorite(s.ID)
	v.Fresh = h.store.IsFresh(s.ID, weather.KindWeather)
	if at, ok := h.store.LastUpdated(s.ID, weather.KindWeather); ok {
		v.UpdatedAt = models.TimestampPtr(at)
	}
	response.JSON(w, r, http.StatusOK, v)
}

// GetForecast handles GET /v1/forecasts/{cityId}?lat=&lon= - opens the detail
// view. The forecast is fetched unless a fresh one is already stored.
func (h *WeatherHandler) GetForecast(w http.ResponseWriter, r *http.Request) {
	cityID := chi.URLParam(r, "cityId")
	coord, fieldErrors := parseCoordinate(r)
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "lat and lon query parameters are required", fieldErrors)
		return
	}

	b, fetched, err := h.refresh.OpenDetail(r.Context(), weather.CityRef{ID: cityID, Coord: coord})
	if err != nil {
		h.writeError(w, r, ratelimit.CategoryForecast, err)
		return
	}

	v := forecastView(*b, h.prefs.TemperatureUnit(), h.loc)
	v.Fetched = fetched
	if at, ok := h.store.LastUpdated(b.CityID, weather.KindForecast); ok {
		v.UpdatedAt = models.TimestampPtr(at)
	}
	response.JSON(w, r, http.StatusOK, v)
}

func parseCoordinate(r *http.Request) (weather.Coordinate, []models.FieldError) {
	var (
		coord weather.Coordinate
		errs  []models.FieldError
	)
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		errs = append(errs, models.FieldError{Field: "lat", Message: "must be a number between -90 and 90", Code: "lat"})
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || math.IsNaN(lon) || lon < -180 || lon > 180 {
		errs = append(errs, models.FieldError{Field: "lon", Message: "must be a number between -180 and 180", Code: "lon"})
	}
	coord.Lat, coord.Lon = lat, lon
	return coord, errs
}

// Search handles GET /v1/search?q= - geocoding search. Queries shorter than
// the minimum length return no results without calling the provider.
func (h *WeatherHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	results, err := h.store.SearchCities(r.Context(), query)
	if err != nil {
		h.writeError(w, r, ratelimit.CategorySearch, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.SearchResults{
		Query:   query,
		Results: searchResultViews(results, h.prefs.IsFavorite),
	})
}

// ClearSearch handles DELETE /v1/search.
func (h *WeatherHandler) ClearSearch(w http.ResponseWriter, r *http.Request) {
	h.store.ClearSearchResults()
	response.NoContent(w, r)
}

// ClearError handles DELETE /v1/error - dismisses the last error.
func (h *WeatherHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	h.store.ClearError()
	response.NoContent(w, r)
}

// Select handles POST /v1/selection - fetches the working set plus the
// selected city once.
func (h *WeatherHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req models.SelectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	city := weather.CityRef{
		ID:      req.ID,
		Name:    req.Name,
		Country: req.Country,
		Coord:   weather.Coordinate{Lat: req.Lat, Lon: req.Lon},
	}
	if city.ID == "" {
		city.ID = city.Coord.ID()
	}

	if err := h.refresh.Select(city); err != nil {
		h.writeError(w, r, ratelimit.CategoryWeather, err)
		return
	}
	response.Accepted(w, r, "", nil)
}

// Refresh handles POST /v1/refresh - refreshes the working set now.
func (h *WeatherHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.refresh.RefreshNow(); err != nil {
		h.writeError(w, r, ratelimit.CategoryWeather, err)
		return
	}
	response.Accepted(w, r, "", nil)
}
