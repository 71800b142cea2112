package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Persistent cache backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// RateLimit is a request budget per client IP over a window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

type AppConfig struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	OpenWeatherAPIKey  string        `env:"OPENWEATHER_API_KEY"`
	OpenWeatherBaseURL string        `env:"OPENWEATHER_BASE_URL" envDefault:"https://api.openweathermap.org/data/2.5"`
	OpenWeatherGeoURL  string        `env:"OPENWEATHER_GEO_URL" envDefault:"https://api.openweathermap.org/geo/1.0"`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	DatabasePath  string `env:"DATABASE_PATH" envDefault:"weather-dashboard.db"`
	CacheBackend  string `env:"PERSISTENT_CACHE_BACKEND" envDefault:"sqlite"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// In-memory cache tier.
	CacheDefaultTTL    time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
	CacheCheckPeriod   time.Duration `env:"CACHE_CHECK_PERIOD" envDefault:"60s"`
	CachePurgeInterval time.Duration `env:"CACHE_PURGE_INTERVAL" envDefault:"5m"`

	JWTSecret         string        `env:"JWT_SECRET"`
	JWTRefreshSecret  string        `env:"JWT_REFRESH_SECRET"`
	JWTExpiresIn      time.Duration `env:"JWT_EXPIRES_IN" envDefault:"168h"`
	JWTRefreshExpires time.Duration `env:"JWT_REFRESH_EXPIRES_IN" envDefault:"720h"`
	JWTIssuer         string        `env:"JWT_ISSUER" envDefault:"weather-dashboard"`
	FirebaseProjectID string        `env:"FIREBASE_PROJECT_ID"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173,http://localhost:5174"`
	FrontendURL    string   `env:"FRONTEND_URL"`

	APILimitMax        int           `env:"RATE_LIMIT_API_MAX" envDefault:"100"`
	APILimitWindow     time.Duration `env:"RATE_LIMIT_API_WINDOW" envDefault:"15m"`
	WeatherLimitMax    int           `env:"RATE_LIMIT_WEATHER_MAX" envDefault:"30"`
	WeatherLimitWindow time.Duration `env:"RATE_LIMIT_WEATHER_WINDOW" envDefault:"1m"`
	SearchLimitMax     int           `env:"RATE_LIMIT_SEARCH_MAX" envDefault:"10"`
	SearchLimitWindow  time.Duration `env:"RATE_LIMIT_SEARCH_WINDOW" envDefault:"1m"`
	AuthLimitMax       int           `env:"RATE_LIMIT_AUTH_MAX" envDefault:"5"`
	AuthLimitWindow    time.Duration `env:"RATE_LIMIT_AUTH_WINDOW" envDefault:"15m"`
}

// Load reads .env when present, then the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	var errs []error

	switch c.CacheBackend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid PERSISTENT_CACHE_BACKEND %q: want sqlite, redis or memory", c.CacheBackend))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET is required"))
	}

	durations := map[string]time.Duration{
		"HTTP_TIMEOUT":              c.HTTPTimeout,
		"CACHE_DEFAULT_TTL":         c.CacheDefaultTTL,
		"CACHE_CHECK_PERIOD":        c.CacheCheckPeriod,
		"CACHE_PURGE_INTERVAL":      c.CachePurgeInterval,
		"JWT_EXPIRES_IN":            c.JWTExpiresIn,
		"JWT_REFRESH_EXPIRES_IN":    c.JWTRefreshExpires,
		"RATE_LIMIT_API_WINDOW":     c.APILimitWindow,
		"RATE_LIMIT_WEATHER_WINDOW": c.WeatherLimitWindow,
		"RATE_LIMIT_SEARCH_WINDOW":  c.SearchLimitWindow,
		"RATE_LIMIT_AUTH_WINDOW":    c.AuthLimitWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	for name, n := range map[string]int{
		"RATE_LIMIT_API_MAX":     c.APILimitMax,
		"RATE_LIMIT_WEATHER_MAX": c.WeatherLimitMax,
		"RATE_LIMIT_SEARCH_MAX":  c.SearchLimitMax,
		"RATE_LIMIT_AUTH_MAX":    c.AuthLimitMax,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether APP_ENV is production.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Origins returns the CORS allow-list including FRONTEND_URL.
func (c *AppConfig) Origins() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range append(append([]string(nil), c.AllowedOrigins...), c.FrontendURL) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

func (c *AppConfig) APILimit() RateLimit {
	return RateLimit{Max: c.APILimitMax, Window: c.APILimitWindow}
}

func (c *AppConfig) WeatherLimit() RateLimit {
	return RateLimit{Max: c.WeatherLimitMax, Window: c.WeatherLimitWindow}
}

func (c *AppConfig) SearchLimit() RateLimit {
	return RateLimit{Max: c.SearchLimitMax, Window: c.SearchLimitWindow}
}

func (c *AppConfig) AuthLimit() RateLimit {
	return RateLimit{Max: c.AuthLimitMax, Window: c.AuthLimitWindow}
}
