// Package config loads the service configuration from an optional .env file,
// an optional config file and SKYBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/skyboard/skyboard/internal/database"
	"github.com/skyboard/skyboard/internal/weather"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SKYBOARD"

// Preference store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	OpenWeather OpenWeatherConfig `mapstructure:"openweather"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Preferences PreferencesConfig `mapstructure:"preferences"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Env             string        `mapstructure:"env"`
	ShutdownTimeout time.Duration `mapstructure:"shutdowntimeout" validate:"gt=0"`
	RequireTLS      bool          `mapstructure:"requiretls"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
}

// OpenWeatherConfig holds weather provider configuration.
type OpenWeatherConfig struct {
	APIKey   string        `mapstructure:"apikey"`
	BaseURL  string        `mapstructure:"baseurl" validate:"url"`
	GeoURL   string        `mapstructure:"geourl" validate:"url"`
	CacheTTL time.Duration `mapstructure:"cachettl" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// RefreshConfig holds refresh orchestrator configuration.
type RefreshConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
}

// RateLimitConfig holds client-side admission limits per window.
type RateLimitConfig struct {
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
	Weather  int           `mapstructure:"weather" validate:"min=1"`
	Forecast int           `mapstructure:"forecast" validate:"min=1"`
	Search   int           `mapstructure:"search" validate:"min=1"`
}

// PreferencesConfig selects the preference repository.
type PreferencesConfig struct {
	Store string `mapstructure:"store" validate:"oneof=memory postgres"`
}

// DatabaseConfig holds PostgreSQL settings, used when Preferences.Store is postgres.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlpendpoint"`
	SampleRatio  float64 `mapstructure:"sampleratio" validate:"gte=0,lte=1"`
}

// PubSubConfig enables the remote command subscription when both fields are set.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"projectid"`
	Subscription string `mapstructure:"subscription"`
}

// Options controls where configuration is read from.
type Options struct {
	// EnvFiles are loaded into the process environment first. Missing files
	// are ignored. Default: ".env".
	EnvFiles []string

	// ConfigPaths are searched for a "skyboard" config file. Optional.
	ConfigPaths []string
}

// legacyEnv maps keys to unprefixed variable names also accepted.
var legacyEnv = map[string][]string{
	"openweather.apikey":     {"SKYBOARD_OPENWEATHER_API_KEY", "OPENWEATHER_API_KEY"},
	"server.port":            {"APP_PORT"},
	"server.env":             {"APP_ENV"},
	"server.requiretls":      {"REQUIRE_TLS"},
	"telemetry.enabled":      {"OTEL_ENABLED"},
	"telemetry.otlpendpoint": {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"telemetry.sampleratio":  {"OTEL_TRACES_SAMPLER_ARG"},
	"database.host":          {"DB_HOST"},
	"database.port":          {"DB_PORT"},
	"database.user":          {"DB_USER"},
	"database.password":      {"DB_PASSWORD"},
	"database.name":          {"DB_NAME"},
	"database.sslmode":       {"DB_SSL_MODE"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdowntimeout", "30s")
	v.SetDefault("server.requiretls", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("openweather.apikey", "")
	v.SetDefault("openweather.baseurl", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("openweather.geourl", "https://api.openweathermap.org/geo/1.0")
	v.SetDefault("openweather.cachettl", "60s")
	v.SetDefault("openweather.timeout", "10s")

	v.SetDefault("refresh.interval", "60s")
	v.SetDefault("refresh.concurrency", 3)

	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("ratelimit.weather", 10)
	v.SetDefault("ratelimit.forecast", 10)
	v.SetDefault("ratelimit.search", 30)

	v.SetDefault("preferences.store", StoreMemory)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "skyboard")
	v.SetDefault("database.password", "localdev")
	v.SetDefault("database.name", "skyboard")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxopenconns", 5)
	v.SetDefault("database.maxidleconns", 1)
	v.SetDefault("database.connmaxlifetime", "5m")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlpendpoint", "localhost:4317")
	v.SetDefault("telemetry.sampleratio", 1.0)

	v.SetDefault("pubsub.projectid", "")
	v.SetDefault("pubsub.subscription", "")
}

// Load reads the configuration. It does not validate it; call Validate.
func Load(opts Options) (*Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if len(opts.ConfigPaths) > 0 {
		v.SetConfigName("skyboard")
		for _, p := range opts.ConfigPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.OpenWeather.APIKey = strings.TrimSpace(cfg.OpenWeather.APIKey)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	return &cfg, nil
}

// Validate checks the configuration. A missing API key is reported as a
// weather configuration error.
func (c *Config) Validate() error {
	if c.OpenWeather.APIKey == "" {
		return weather.NewConfigurationError("")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the listen address in the format ":port".
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// LogLevel returns the zerolog level, defaulting to info.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

// PubSubEnabled reports whether the command subscription is configured.
func (c *Config) PubSubEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.Subscription != ""
}

// PostgresConfig converts the settings for the database package.
func (c *Config) PostgresConfig() database.Config {
	return database.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}
