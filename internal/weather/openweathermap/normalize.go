package openweathermap

import (
	"strconv"
	"time"

	"github.com/skyboard/skyboard/internal/weather"
)

// OpenWeatherMap API response structures.

type condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type mainBlock struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

type windBlock struct {
	Speed float64 `json:"speed"`
	Deg   float64 `json:"deg"`
}

type cloudsBlock struct {
	All float64 `json:"all"`
}

type currentWeatherResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather    []condition `json:"weather"`
	Main       mainBlock   `json:"main"`
	Visibility int         `json:"visibility"`
	Wind       windBlock   `json:"wind"`
	Clouds     cloudsBlock `json:"clouds"`
	Sys        struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
}

type forecastResponse struct {
	List []struct {
		Dt      int64       `json:"dt"`
		Main    mainBlock   `json:"main"`
		Weather []condition `json:"weather"`
		Wind    windBlock   `json:"wind"`
		Clouds  cloudsBlock `json:"clouds"`
		Pop     float64     `json:"pop"`
		Rain    *struct {
			ThreeHour float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
	City struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
}

type geocodingResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

func firstCondition(conds []condition) condition {
	if len(conds) == 0 {
		return condition{}
	}
	return conds[0]
}

func (r *currentWeatherResponse) normalize() *weather.WeatherSnapshot {
	coord := weather.Coordinate{Lat: r.Coord.Lat, Lon: r.Coord.Lon}
	id := strconv.FormatInt(r.ID, 10)
	if r.ID == 0 {
		id = coord.ID()
	}
	cond := firstCondition(r.Weather)

	return &weather.WeatherSnapshot{
		ID:               id,
		Name:             r.Name,
		Country:          r.Sys.Country,
		Coord:            coord,
		Temperature:      r.Main.Temp,
		FeelsLike:        r.Main.FeelsLike,
		TempMin:          r.Main.TempMin,
		TempMax:          r.Main.TempMax,
		Pressure:         r.Main.Pressure,
		Humidity:         r.Main.Humidity,
		Description:      cond.Description,
		IconCode:         cond.Icon,
		WindSpeed:        r.Wind.Speed,
		WindDirectionDeg: r.Wind.Deg,
		Cloudiness:       r.Clouds.All,
		VisibilityMeters: r.Visibility,
		SunriseEpoch:     r.Sys.Sunrise,
		SunsetEpoch:      r.Sys.Sunset,
	}
}

func (r *forecastResponse) normalize(loc *time.Location) *weather.ForecastBundle {
	points := make([]weather.HourPoint, 0, len(r.List))
	for _, item := range r.List {
		cond := firstCondition(item.Weather)
		p := weather.HourPoint{
			Timestamp:                item.Dt,
			Temperature:              item.Main.Temp,
			FeelsLike:                item.Main.FeelsLike,
			TempMin:                  item.Main.TempMin,
			TempMax:                  item.Main.TempMax,
			Pressure:                 item.Main.Pressure,
			Humidity:                 item.Main.Humidity,
			Description:              cond.Description,
			IconCode:                 cond.Icon,
			WindSpeed:                item.Wind.Speed,
			WindDeg:                  item.Wind.Deg,
			Cloudiness:               item.Clouds.All,
			PrecipitationProbability: item.Pop,
		}
		if item.Rain != nil {
			p.RainMM = item.Rain.ThreeHour
		}
		points = append(points, p)
	}

	hourly := points
	if len(hourly) > weather.MaxHourlyPoints {
		hourly = hourly[:weather.MaxHourlyPoints]
	}

	var cityID string
	if r.City.ID != 0 {
		cityID = strconv.FormatInt(r.City.ID, 10)
	}

	return &weather.ForecastBundle{
		CityID:   cityID,
		CityName: r.City.Name,
		Country:  r.City.Country,
		Hourly:   append([]weather.HourPoint(nil), hourly...),
		Daily:    weather.AggregateDaily(points, loc, weather.MaxDailyPoints),
	}
}

func normalizeSearch(raw []geocodingResult) []weather.SearchResult {
	if len(raw) > SearchLimit {
		raw = raw[:SearchLimit]
	}
	results := make([]weather.SearchResult, 0, len(raw))
	for _, g := range raw {
		coord := weather.Coordinate{Lat: g.Lat, Lon: g.Lon}
		results = append(results, weather.SearchResult{
			ID:      coord.ID(),
			Name:    g.Name,
			Country: g.Country,
			State:   g.State,
			Coord:   coord,
		})
	}
	return results
}
