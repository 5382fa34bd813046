package preferences

import (
	"context"
	"errors"
)

// Storage keys.
const (
	KeyFavorites       = "favorites"
	KeyTemperatureUnit = "temperatureUnit"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("preference not found")

// Repository is a durable key-value store holding JSON-encoded values.
type Repository interface {
	// Get returns the raw JSON stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
}
