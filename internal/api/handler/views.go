package handler

import (
	"math"
	"sort"
	"time"

	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/preferences"
	"github.com/skyboard/skyboard/internal/weather"
	"github.com/skyboard/skyboard/pkg/units"
)

func cityWeatherView(s weather.WeatherSnapshot, unit units.TemperatureUnit, loc *time.Location) models.CityWeather {
	v := models.CityWeather{
		ID:            s.ID,
		Name:          s.Name,
		Country:       s.Country,
		Coord:         models.Point{Lat: s.Coord.Lat, Lon: s.Coord.Lon},
		Temperature:   units.FormatTemperature(s.Temperature, unit),
		FeelsLike:     units.FormatTemperature(s.FeelsLike, unit),
		TempMin:       units.FormatTemperature(s.TempMin, unit),
		TempMax:       units.FormatTemperature(s.TempMax, unit),
		Description:   s.Description,
		IconURL:       units.IconURL(s.IconCode),
		Humidity:      s.Humidity,
		Pressure:      s.Pressure,
		WindSpeed:     s.WindSpeed,
		WindDirection: units.WindDirection(s.WindDirectionDeg),
		Cloudiness:    s.Cloudiness,
		Visibility:    s.VisibilityMeters,
	}
	if s.SunriseEpoch > 0 {
		v.Sunrise = units.FormatTime(s.SunriseEpoch, loc)
	}
	if s.SunsetEpoch > 0 {
		v.Sunset = units.FormatTime(s.SunsetEpoch, loc)
	}
	return v
}

// sortedSnapshots orders snapshots by name, then id.
func sortedSnapshots(m map[string]weather.WeatherSnapshot) []weather.WeatherSnapshot {
	out := make([]weather.WeatherSnapshot, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func forecastView(b weather.ForecastBundle, unit units.TemperatureUnit, loc *time.Location) models.Forecast {
	v := models.Forecast{
		CityID:   b.CityID,
		CityName: b.CityName,
		Country:  b.Country,
		Unit:     string(unit),
		Hourly:   make([]models.HourForecast, 0, len(b.Hourly)),
		Daily:    make([]models.DayForecast, 0, len(b.Daily)),
	}
	for _, h := range b.Hourly {
		v.Hourly = append(v.Hourly, models.HourForecast{
			Time:                     units.FormatTime(h.Timestamp, loc),
			Timestamp:                h.Timestamp,
			Temperature:              units.FormatTemperature(h.Temperature, unit),
			FeelsLike:                units.FormatTemperature(h.FeelsLike, unit),
			Description:              h.Description,
			IconURL:                  units.IconURL(h.IconCode),
			Humidity:                 h.Humidity,
			WindSpeed:                h.WindSpeed,
			PrecipitationProbability: percent(h.PrecipitationProbability),
			RainMM:                   h.RainMM,
		})
	}
	for _, d := range b.Daily {
		v.Daily = append(v.Daily, models.DayForecast{
			Date:                     d.Date,
			Label:                    units.FormatDate(d.Timestamp, loc),
			Timestamp:                d.Timestamp,
			TempMin:                  units.FormatTemperature(d.TempMin, unit),
			TempMax:                  units.FormatTemperature(d.TempMax, unit),
			TempAvg:                  units.FormatTemperature(d.TempAvg, unit),
			Description:              d.Description,
			IconURL:                  units.IconURL(d.IconCode),
			Humidity:                 d.Humidity,
			WindSpeed:                d.WindSpeed,
			PrecipitationProbability: percent(d.Pop),
			RainMM:                   d.Rain,
		})
	}
	return v
}

func percent(p float64) int {
	return int(math.Round(p * 100))
}

func searchResultViews(results []weather.SearchResult, isFavorite func(string) bool) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.SearchResult{
			ID:         r.ID,
			Name:       r.Name,
			Country:    r.Country,
			State:      r.State,
			Coord:      models.Point{Lat: r.Coord.Lat, Lon: r.Coord.Lon},
			IsFavorite: isFavorite(r.ID),
		})
	}
	return out
}

func favoriteViews(favs []preferences.Favorite) []models.Favorite {
	out := make([]models.Favorite, 0, len(favs))
	for _, f := range favs {
		out = append(out, models.Favorite{
			ID:      f.ID,
			Name:    f.Name,
			Country: f.Country,
			Lat:     f.Lat,
			Lon:     f.Lon,
		})
	}
	return out
}

func preferencesView(svc *preferences.Service) models.Preferences {
	return models.Preferences{
		Favorites: favoriteViews(svc.Favorites()),
		Unit:      string(svc.TemperatureUnit()),
	}
}
