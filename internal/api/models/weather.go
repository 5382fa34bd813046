package models

// CityWeather is one dashboard card: current conditions formatted in the
// preferred temperature unit.
type CityWeather struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Country       string     `json:"country"`
	Coord         Point      `json:"coord"`
	Temperature   string     `json:"temperature"`
	FeelsLike     string     `json:"feelsLike"`
	TempMin       string     `json:"tempMin"`
	TempMax       string     `json:"tempMax"`
	Description   string     `json:"description"`
	IconURL       string     `json:"iconUrl"`
	Humidity      float64    `json:"humidity"`
	Pressure      float64    `json:"pressure"`
	WindSpeed     float64    `json:"windSpeed"`
	WindDirection string     `json:"windDirection"`
	Cloudiness    float64    `json:"cloudiness"`
	Visibility    int        `json:"visibility"`
	Sunrise       string     `json:"sunrise,omitempty"`
	Sunset        string     `json:"sunset,omitempty"`
	IsFavorite    bool       `json:"isFavorite"`
	Fresh         bool       `json:"fresh"`
	UpdatedAt     *Timestamp `json:"updatedAt,omitempty"`
}

// Dashboard is the full dashboard view.
type Dashboard struct {
	Unit          string         `json:"unit"`
	Loading       bool           `json:"loading"`
	Error         string         `json:"error,omitempty"`
	Cities        []CityWeather  `json:"cities"`
	SearchResults []SearchResult `json:"searchResults"`
	Favorites     []Favorite     `json:"favorites"`
}

// HourForecast is one 3-hour forecast sample.
type HourForecast struct {
	Time                     string  `json:"time"`
	Timestamp                int64   `json:"timestamp"`
	Temperature              string  `json:"temperature"`
	FeelsLike                string  `json:"feelsLike"`
	Description              string  `json:"description"`
	IconURL                  string  `json:"iconUrl"`
	Humidity                 float64 `json:"humidity"`
	WindSpeed                float64 `json:"windSpeed"`
	PrecipitationProbability int     `json:"precipitationProbability"`
	RainMM                   float64 `json:"rainMm"`
}

// DayForecast is one calendar day of the forecast.
type DayForecast struct {
	Date                     string  `json:"date"`
	Label                    string  `json:"label"`
	Timestamp                int64   `json:"timestamp"`
	TempMin                  string  `json:"tempMin"`
	TempMax                  string  `json:"tempMax"`
	TempAvg                  string  `json:"tempAvg"`
	Description              string  `json:"description"`
	IconURL                  string  `json:"iconUrl"`
	Humidity                 float64 `json:"humidity"`
	WindSpeed                float64 `json:"windSpeed"`
	PrecipitationProbability int     `json:"precipitationProbability"`
	RainMM                   float64 `json:"rainMm"`
}

// Forecast is the detail view of one city.
type Forecast struct {
	CityID    string         `json:"cityId"`
	CityName  string         `json:"cityName"`
	Country   string         `json:"country"`
	Unit      string         `json:"unit"`
	Hourly    []HourForecast `json:"hourly"`
	Daily     []DayForecast  `json:"daily"`
	Fetched   bool           `json:"fetched"`
	UpdatedAt *Timestamp     `json:"updatedAt,omitempty"`
}

// SearchResult is one city returned by the geocoding search.
type SearchResult struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	Coord      Point  `json:"coord"`
	IsFavorite bool   `json:"isFavorite"`
}

// SearchResults wraps the results of a search request.
type SearchResults struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SelectionRequest selects a city for a one-off refresh.
type SelectionRequest struct {
	ID      string  `json:"id"`
	Name    string  `json:"name" validate:"required"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `json:"lon" validate:"gte=-180,lte=180"`
}
