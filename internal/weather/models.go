// Package weather defines the normalized weather entities shared by the
// provider client, the state store and the HTTP API.
package weather

import (
	"fmt"
	"strconv"
	"strings"
)

// Coordinate is a geographic point in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies within the WGS84 range.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Key returns the coordinate rounded to six decimals, used to deduplicate
// cities that refer to the same place.
func (c Coordinate) Key() string {
	return fmt.Sprintf("%.6f:%.6f", c.Lat, c.Lon)
}

// ID returns a stable identifier derived from the coordinate ("lat_lon"),
// used where the provider does not assign one.
func (c Coordinate) ID() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "_" + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// Query selects a city either by coordinate or by name. The coordinate takes
// precedence when both are set.
type Query struct {
	Name  string
	Coord *Coordinate
}

// ByName creates a query for a city name.
func ByName(name string) Query {
	return Query{Name: name}
}

// ByCoordinate creates a query for a coordinate.
func ByCoordinate(lat, lon float64) Query {
	return Query{Coord: &Coordinate{Lat: lat, Lon: lon}}
}

// Validate checks that the query selects something usable.
func (q Query) Validate() error {
	if q.Coord != nil {
		if !q.Coord.Valid() {
			return fmt.Errorf("%w: coordinate out of range", ErrInvalidQuery)
		}
		return nil
	}
	if strings.TrimSpace(q.Name) == "" {
		return fmt.Errorf("%w: name or coordinate required", ErrInvalidQuery)
	}
	return nil
}

// String returns the normalized selector used for cache keys and logging.
func (q Query) String() string {
	if q.Coord != nil {
		return fmt.Sprintf("lat=%.6f,lon=%.6f", q.Coord.Lat, q.Coord.Lon)
	}
	return "q=" + strings.ToLower(strings.TrimSpace(q.Name))
}

// Kind distinguishes freshness records of the same city.
type Kind string

const (
	KindWeather  Kind = "weather"
	KindForecast Kind = "forecast"
)

// WeatherSnapshot is one city's current conditions, in metric units.
type WeatherSnapshot struct {
	ID      string
	Name    string
	Country string
	Coord   Coordinate

	Temperature float64
	FeelsLike   float64
	TempMin     float64
	TempMax     float64
	Pressure    float64 // hPa
	Humidity    float64 // percent

	Description string
	IconCode    string

	WindSpeed        float64 // m/s
	WindDirectionDeg float64
	Cloudiness       float64 // percent
	VisibilityMeters int

	SunriseEpoch int64
	SunsetEpoch  int64
}

// ForecastBundle is one city's forward-looking forecast.
type ForecastBundle struct {
	CityID   string
	CityName string
	Country  string

	// Hourly holds the first samples at the provider's 3-hour granularity.
	Hourly []HourPoint

	// Daily holds one aggregate per calendar day present in the series.
	Daily []DayAggregate
}

// HourPoint is a single forecast sample.
type HourPoint struct {
	Timestamp   int64
	Temperature float64
	FeelsLike   float64
	TempMin     float64
	TempMax     float64
	Pressure    float64
	Humidity    float64
	Description string
	IconCode    string
	WindSpeed   float64
	WindDeg     float64
	Cloudiness  float64

	PrecipitationProbability float64 // 0-1
	RainMM                   float64 // 3h accumulation
}

// DayAggregate summarizes the samples of one calendar day.
type DayAggregate struct {
	Date      string
	Timestamp int64 // first sample of the day

	TempMin   float64
	TempMax   float64
	TempAvg   float64
	Humidity  float64
	WindSpeed float64

	Description string
	IconCode    string

	Pop  float64 // max precipitation probability
	Rain float64 // summed accumulation
}

// SearchResult is a geocoding match.
type SearchResult struct {
	ID      string
	Name    string
	Country string
	State   string
	Coord   Coordinate
}

// CityRef is a lightweight reference to a city.
type CityRef struct {
	ID      string
	Name    string
	Country string
	Coord   Coordinate
}
