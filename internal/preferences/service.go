// Package preferences persists the user's favorite cities and temperature
// unit, and notifies listeners when the favorites change.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/skyboard/skyboard/internal/weather"
	"github.com/skyboard/skyboard/pkg/units"
)

// Favorite is a city the user pinned to the dashboard.
type Favorite struct {
	ID      string  `json:"id" validate:"required"`
	Name    string  `json:"name" validate:"required"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// CityRef converts the favorite to a weather city reference.
func (f Favorite) CityRef() weather.CityRef {
	return weather.CityRef{
		ID:      f.ID,
		Name:    f.Name,
		Country: f.Country,
		Coord:   weather.Coordinate{Lat: f.Lat, Lon: f.Lon},
	}
}

// CityRefs converts favorites to weather city references, keeping order.
func CityRefs(favorites []Favorite) []weather.CityRef {
	refs := make([]weather.CityRef, 0, len(favorites))
	for _, f := range favorites {
		refs = append(refs, f.CityRef())
	}
	return refs
}

// Listener receives the full favorites list after every change.
type Listener func(favorites []Favorite)

// Config holds the service dependencies.
type Config struct {
	Repository Repository
	Logger     zerolog.Logger
}

// Service owns the in-memory preferences and writes them through to the
// repository. Write failures are logged and never surfaced to callers.
type Service struct {
	repo   Repository
	logger zerolog.Logger

	// writeMu orders mutations so persisted values match the final state.
	writeMu sync.Mutex

	mu        sync.RWMutex
	favorites []Favorite
	unit      units.TemperatureUnit
	listeners []Listener
}

// NewService creates a service holding the defaults. Call Load to read
// persisted values.
func NewService(cfg Config) *Service {
	repo := cfg.Repository
	if repo == nil {
		repo = NewInMemoryRepository()
	}
	return &Service{
		repo:      repo,
		logger:    cfg.Logger,
		favorites: []Favorite{},
		unit:      units.Celsius,
	}
}

// Load reads persisted preferences. Missing or unreadable values fall back
// to defaults (no favorites, celsius).
func (s *Service) Load(ctx context.Context) {
	favorites := []Favorite{}
	if raw, err := s.repo.Get(ctx, KeyFavorites); err == nil {
		var decoded []Favorite
		if err := json.Unmarshal(raw, &decoded); err != nil {
			s.logger.Warn().Err(err).Str("key", KeyFavorites).Msg("discarding unreadable preference")
		} else if decoded != nil {
			favorites = dedupe(decoded)
		}
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).Str("key", KeyFavorites).Msg("reading preference failed, using default")
	}

	unit := units.Celsius
	if raw, err := s.repo.Get(ctx, KeyTemperatureUnit); err == nil {
		var decoded units.TemperatureUnit
		if err := json.Unmarshal(raw, &decoded); err != nil || !decoded.Valid() {
			s.logger.Warn().Str("key", KeyTemperatureUnit).Msg("discarding unreadable preference")
		} else {
			unit = decoded
		}
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).Str("key", KeyTemperatureUnit).Msg("reading preference failed, using default")
	}

	s.mu.Lock()
	s.favorites = favorites
	s.unit = unit
	s.mu.Unlock()

	s.logger.Info().Int("favorites", len(favorites)).Str("unit", string(unit)).Msg("preferences loaded")
}

func dedupe(favs []Favorite) []Favorite {
	seen := make(map[string]struct{}, len(favs))
	out := make([]Favorite, 0, len(favs))
	for _, f := range favs {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// AddFavorite appends the city unless one with the same id exists. It
// reports whether the list changed.
func (s *Service) AddFavorite(ctx context.Context, fav Favorite) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	for _, f := range s.favorites {
		if f.ID == fav.ID {
			s.mu.Unlock()
			return false
		}
	}
	s.favorites = append(s.favorites, fav)
	snapshot := s.copyFavoritesLocked()
	s.mu.Unlock()

	s.persist(ctx, KeyFavorites, snapshot)
	s.notify(snapshot)
	return true
}

// RemoveFavorite drops the city with the given id. The list is persisted
// even when nothing was removed. It reports whether the list changed.
func (s *Service) RemoveFavorite(ctx context.Context, id string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	kept := make([]Favorite, 0, len(s.favorites))
	for _, f := range s.favorites {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	changed := len(kept) != len(s.favorites)
	s.favorites = kept
	snapshot := s.copyFavoritesLocked()
	s.mu.Unlock()

	s.persist(ctx, KeyFavorites, snapshot)
	if changed {
		s.notify(snapshot)
	}
	return changed
}

// ToggleTemperatureUnit flips the unit and returns the new value.
func (s *Service) ToggleTemperatureUnit(ctx context.Context) units.TemperatureUnit {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.unit = s.unit.Toggle()
	unit := s.unit
	s.mu.Unlock()

	s.persist(ctx, KeyTemperatureUnit, unit)
	return unit
}

// Favorites returns a copy of the favorites in insertion order.
func (s *Service) Favorites() []Favorite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFavoritesLocked()
}

// TemperatureUnit returns the preferred unit.
func (s *Service) TemperatureUnit() units.TemperatureUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unit
}

// IsFavorite reports whether a city id is a favorite.
func (s *Service) IsFavorite(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.favorites {
		if f.ID == id {
			return true
		}
	}
	return false
}

// OnFavoritesChange registers a listener. Listeners run synchronously, in
// registration order, outside the service lock. They must not mutate
// preferences.
func (s *Service) OnFavoritesChange(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) copyFavoritesLocked() []Favorite {
	return append([]Favorite{}, s.favorites...)
}

func (s *Service) notify(favorites []Favorite) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(append([]Favorite(nil), favorites...))
	}
}

func (s *Service) persist(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("encoding preference failed")
		return
	}
	if err := s.repo.Put(ctx, key, raw); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("persisting preference failed")
	}
}
