package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/api/response"
	"github.com/skyboard/skyboard/internal/preferences"
)

// PreferencesHandler handles the favorites and temperature unit endpoints.
type PreferencesHandler struct {
	prefs *preferences.Service
}

// NewPreferencesHandler creates a new PreferencesHandler.
func NewPreferencesHandler(prefs *preferences.Service) *PreferencesHandler {
	return &PreferencesHandler{prefs: prefs}
}

// GetPreferences handles GET /v1/preferences.
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, preferencesView(h.prefs))
}

// AddFavorite handles POST /v1/preferences/favorites. Adding a city that is
// already a favorite is a no-op answered with 200.
func (h *PreferencesHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var req models.Favorite
	if !decodeJSON(w, r, &req) {
		return
	}

	added := h.prefs.AddFavorite(r.Context(), preferences.Favorite{
		ID:      req.ID,
		Name:    req.Name,
		Country: req.Country,
		Lat:     req.Lat,
		Lon:     req.Lon,
	})
	if !added {
		response.JSON(w, r, http.StatusOK, preferencesView(h.prefs))
		return
	}
	response.Created(w, r, "/v1/preferences/favorites/"+url.PathEscape(req.ID), preferencesView(h.prefs))
}

// RemoveFavorite handles DELETE /v1/preferences/favorites/{cityId}.
func (h *PreferencesHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	h.prefs.RemoveFavorite(r.Context(), chi.URLParam(r, "cityId"))
	response.NoContent(w, r)
}

// ToggleUnit handles POST /v1/preferences/unit:toggle.
func (h *PreferencesHandler) ToggleUnit(w http.ResponseWriter, r *http.Request) {
	h.prefs.ToggleTemperatureUnit(r.Context())
	response.JSON(w, r, http.StatusOK, preferencesView(h.prefs))
}
