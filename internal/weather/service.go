package weather

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/cache"
	"github.com/i474232898/weather-dashboard/internal/weathercache"
)

// Freshness windows per operation.
const (
	CurrentTTL  = 300 * time.Second
	ForecastTTL = 1800 * time.Second
	HourlyTTL   = 1800 * time.Second
	SearchTTL   = 600 * time.Second

	// HourlyEntries is 48 hours of 3-hour forecast steps.
	HourlyEntries = 16
	SearchLimit   = 5
)

var (
	validate    = validator.New()
	cityPattern = regexp.MustCompile(`^[\p{L}\s\-']+$`)
)

func init() {
	_ = validate.RegisterValidation("cityname", func(fl validator.FieldLevel) bool {
		return cityPattern.MatchString(fl.Field().String())
	})
}

type cityQuery struct {
	City string `validate:"required,min=2,max=50,cityname"`
}

type searchQuery struct {
	Q string `validate:"required,min=2,max=50"`
}

type coordsQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

// Service answers weather reads through the in-process cache, then the
// persistent cache, then the gateway.
type Service struct {
	gateway    Gateway
	memory     *cache.Store
	persistent *weathercache.Cache
	log        zerolog.Logger
}

type Option func(*Service)

// WithPersistentCache adds the shared tier between memory and the gateway.
func WithPersistentCache(c *weathercache.Cache) Option {
	return func(s *Service) { s.persistent = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log.With().Str("component", "weather").Logger() }
}

// NewService creates a Service. memory must not be nil.
func NewService(gateway Gateway, memory *cache.Store, opts ...Option) *Service {
	s := &Service{
		gateway: gateway,
		memory:  memory,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns current conditions for city.
func (s *Service) Current(ctx context.Context, city string) (CurrentWeather, error) {
	city, err := normalizeCity(city)
	if err != nil {
		return CurrentWeather{}, err
	}
	return cache.GetOrSet(ctx, s.memory, cache.WeatherKey(cache.OpCurrent, city), CurrentTTL,
		func(ctx context.Context) (CurrentWeather, error) {
			return readThrough(ctx, s, city, weathercache.KindCurrent, CurrentTTL,
				func(ctx context.Context) (CurrentWeather, error) {
					return s.gateway.Current(ctx, Location{City: city})
				})
		})
}

// Forecast returns the 5-day, 3-hour forecast for city with daily summaries.
func (s *Service) Forecast(ctx context.Context, city string) (Forecast, error) {
	city, err := normalizeCity(city)
	if err != nil {
		return Forecast{}, err
	}
	return s.forecast(ctx, city)
}

func (s *Service) forecast(ctx context.Context, city string) (Forecast, error) {
	return cache.GetOrSet(ctx, s.memory, cache.WeatherKey(cache.OpForecast, city), ForecastTTL,
		func(ctx context.Context) (Forecast, error) {
			return readThrough(ctx, s, city, weathercache.KindForecast, ForecastTTL,
				func(ctx context.Context) (Forecast, error) {
					f, err := s.gateway.Forecast(ctx, Location{City: city})
					if err != nil {
						return Forecast{}, err
					}
					f.Daily = SummarizeDays(f.List, f.City.Timezone)
					return f, nil
				})
		})
}

// Hourly returns the first 48 hours of the forecast.
func (s *Service) Hourly(ctx context.Context, city string) (Forecast, error) {
	city, err := normalizeCity(city)
	if err != nil {
		return Forecast{}, err
	}
	return cache.GetOrSet(ctx, s.memory, cache.WeatherKey(cache.OpHourly, city), HourlyTTL,
		func(ctx context.Context) (Forecast, error) {
			return readThrough(ctx, s, city, weathercache.KindHourly, HourlyTTL,
				func(ctx context.Context) (Forecast, error) {
					f, err := s.forecast(ctx, city)
					if err != nil {
						return Forecast{}, err
					}
					list := f.List
					if len(list) > HourlyEntries {
						list = list[:HourlyEntries]
					}
					return Forecast{City: f.City, List: append([]ForecastEntry(nil), list...)}, nil
				})
		})
}

// Search returns up to SearchLimit cities matching q.
func (s *Service) Search(ctx context.Context, q string) ([]City, error) {
	q = strings.TrimSpace(q)
	if err := validate.Struct(searchQuery{Q: q}); err != nil {
		if utf8.RuneCountInString(q) < 2 {
			return nil, apperr.BadRequest("Search query must be at least 2 characters")
		}
		return nil, apperr.Wrap(apperr.ErrBadRequest, "Search query must be between 2 and 50 characters", err)
	}
	return cache.GetOrSet(ctx, s.memory, cache.WeatherKey(cache.OpSearch, q), SearchTTL,
		func(ctx context.Context) ([]City, error) {
			return s.gateway.SearchCities(ctx, q, SearchLimit)
		})
}

// CurrentByCoords returns current conditions at a coordinate. It is not cached.
func (s *Service) CurrentByCoords(ctx context.Context, lat, lon float64) (CurrentWeather, error) {
	if err := validate.Struct(coordsQuery{Lat: lat, Lon: lon}); err != nil {
		return CurrentWeather{}, apperr.Wrap(apperr.ErrBadRequest, "Invalid coordinates", err)
	}
	return s.gateway.Current(ctx, Location{Lat: &lat, Lon: &lon})
}

// readThrough consults the persistent tier when one is configured.
func readThrough[T any](ctx context.Context, s *Service, city string, kind weathercache.Kind, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	if s.persistent == nil {
		return fetch(ctx)
	}
	return weathercache.Fetch(ctx, s.persistent, city, city, kind, ttl, fetch)
}

func normalizeCity(city string) (string, error) {
	city = strings.Join(strings.Fields(city), " ")
	if err := validate.Struct(cityQuery{City: city}); err != nil {
		return "", apperr.Wrap(apperr.ErrBadRequest,
			"City name must be 2-50 characters and contain only letters, spaces, hyphens and apostrophes", err)
	}
	return city, nil
}
