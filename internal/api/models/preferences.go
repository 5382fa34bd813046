package models

// Favorite is a pinned city.
type Favorite struct {
	ID      string  `json:"id" validate:"required"`
	Name    string  `json:"name" validate:"required"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Preferences is the persisted user preference view.
type Preferences struct {
	Favorites []Favorite `json:"favorites"`
	Unit      string     `json:"unit"`
}
