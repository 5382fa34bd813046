// Package worker keeps the dashboard's working set of cities refreshed:
// an immediate fetch when the set changes and a periodic re-fetch after.
package worker

import (
	"time"

	"github.com/skyboard/skyboard/internal/weather"
)

// Config holds configuration for the refresh orchestrator.
type Config struct {
	// Interval between periodic refresh cycles.
	// Default: 60 seconds
	Interval time.Duration

	// Concurrency is the number of fetches a cycle runs in parallel.
	// Default: 3
	Concurrency int

	// FetchTimeout bounds each individual fetch.
	// Default: 15 seconds
	FetchTimeout time.Duration

	// Defaults are always part of the working set.
	// If nil, uses DefaultCities.
	Defaults []weather.CityRef
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Second,
		Concurrency:  3,
		FetchTimeout: 15 * time.Second,
		Defaults:     DefaultCities(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Defaults == nil {
		c.Defaults = d.Defaults
	}
}

// DefaultCities returns the cities shown on an empty dashboard.
func DefaultCities() []weather.CityRef {
	return []weather.CityRef{
		{ID: "5128581", Name: "New York", Country: "US", Coord: weather.Coordinate{Lat: 40.7128, Lon: -74.006}},
		{ID: "2643743", Name: "London", Country: "GB", Coord: weather.Coordinate{Lat: 51.5074, Lon: -0.1278}},
		{ID: "1850147", Name: "Tokyo", Country: "JP", Coord: weather.Coordinate{Lat: 35.6762, Lon: 139.6503}},
		{ID: "2988507", Name: "Paris", Country: "FR", Coord: weather.Coordinate{Lat: 48.8566, Lon: 2.3522}},
		{ID: "1275339", Name: "Mumbai", Country: "IN", Coord: weather.Coordinate{Lat: 19.076, Lon: 72.8777}},
		{ID: "2147714", Name: "Sydney", Country: "AU", Coord: weather.Coordinate{Lat: -33.8688, Lon: 151.2093}},
	}
}

// WorkingSet merges defaults, favorites and an optional selection, dropping
// later cities whose coordinates match an earlier one to six decimals.
// Cities with out-of-range coordinates are skipped.
func WorkingSet(defaults, favorites []weather.CityRef, selection *weather.CityRef) []weather.CityRef {
	candidates := make([]weather.CityRef, 0, len(defaults)+len(favorites)+1)
	candidates = append(candidates, defaults...)
	candidates = append(candidates, favorites...)
	if selection != nil {
		candidates = append(candidates, *selection)
	}

	seen := make(map[string]struct{}, len(candidates))
	set := make([]weather.CityRef, 0, len(candidates))
	for _, c := range candidates {
		if !c.Coord.Valid() {
			continue
		}
		key := c.Coord.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		set = append(set, c)
	}
	return set
}
