// Package units provides temperature conversion and display formatting helpers
// for weather values. All functions are pure.
package units

import (
	"fmt"
	"math"
	"time"
)

// TemperatureUnit is the display unit for temperatures.
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "celsius"
	Fahrenheit TemperatureUnit = "fahrenheit"
)

// Valid reports whether u is a known unit.
func (u TemperatureUnit) Valid() bool {
	return u == Celsius || u == Fahrenheit
}

// Toggle returns the other unit. Unknown units toggle to Fahrenheit, the
// same as Celsius would.
func (u TemperatureUnit) Toggle() TemperatureUnit {
	if u == Fahrenheit {
		return Celsius
	}
	return Fahrenheit
}

// Symbol returns the short suffix used when formatting, "C" or "F".
func (u TemperatureUnit) Symbol() string {
	if u == Fahrenheit {
		return "F"
	}
	return "C"
}

// IconBaseURL is where OpenWeatherMap serves condition icons.
const IconBaseURL = "https://openweathermap.org/img/wn"

var compassPoints = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// CelsiusToFahrenheit converts a Celsius temperature to Fahrenheit.
func CelsiusToFahrenheit(celsius float64) float64 {
	return celsius*9/5 + 32
}

// Convert converts a Celsius temperature into the given unit.
func Convert(celsius float64, unit TemperatureUnit) float64 {
	if unit == Fahrenheit {
		return CelsiusToFahrenheit(celsius)
	}
	return celsius
}

// FormatTemperature renders a Celsius value in the requested unit, rounded to
// the nearest whole degree, e.g. "20°C" or "68°F".
func FormatTemperature(celsius float64, unit TemperatureUnit) string {
	return fmt.Sprintf("%d°%s", roundHalfUp(Convert(celsius, unit)), unit.Symbol())
}

// IconURL returns the 2x icon image URL for an OpenWeatherMap icon code.
func IconURL(icon string) string {
	return fmt.Sprintf("%s/%s@2x.png", IconBaseURL, icon)
}

// FormatTime renders a unix timestamp as a short clock time, e.g. "3:04 PM".
func FormatTime(epoch int64, loc *time.Location) string {
	return inLocation(epoch, loc).Format("3:04 PM")
}

// FormatDate renders a unix timestamp as a short date, e.g. "Mon, Jan 2".
func FormatDate(epoch int64, loc *time.Location) string {
	return inLocation(epoch, loc).Format("Mon, Jan 2")
}

// WindDirection maps a bearing in degrees to one of eight compass points.
func WindDirection(deg float64) string {
	idx := roundHalfUp(deg/45) % 8
	if idx < 0 {
		idx += 8
	}
	return compassPoints[idx]
}

func inLocation(epoch int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(epoch, 0).In(loc)
}

// roundHalfUp rounds .5 towards positive infinity so -2.5 becomes -2.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
