package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/weather-dashboard/internal/api/http"
	"github.com/i474232898/weather-dashboard/internal/auth"
	"github.com/i474232898/weather-dashboard/internal/cache"
	"github.com/i474232898/weather-dashboard/internal/common"
	"github.com/i474232898/weather-dashboard/internal/config"
	"github.com/i474232898/weather-dashboard/internal/favorites"
	"github.com/i474232898/weather-dashboard/internal/metrics"
	"github.com/i474232898/weather-dashboard/internal/scheduler"
	"github.com/i474232898/weather-dashboard/internal/store"
	redisstore "github.com/i474232898/weather-dashboard/internal/store/redis"
	"github.com/i474232898/weather-dashboard/internal/store/sqlite"
	"github.com/i474232898/weather-dashboard/internal/users"
	"github.com/i474232898/weather-dashboard/internal/weather"
	"github.com/i474232898/weather-dashboard/internal/weather/providers"
	"github.com/i474232898/weather-dashboard/internal/weathercache"
)

// repositories are the storage backends selected by configuration.
type repositories struct {
	favorites favorites.Store
	users     users.Repository
	cache     weathercache.Repository
	closers   []io.Closer
}

func (r *repositories) Close(log zerolog.Logger) {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing storage")
		}
	}
}

// openRepositories keeps users and favorites in SQLite unless everything is
// in memory; the weather cache tier follows PERSISTENT_CACHE_BACKEND.
func openRepositories(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*repositories, error) {
	if cfg.CacheBackend == config.BackendMemory {
		mem := store.NewMemoryStore()
		log.Warn().Msg("using in-memory storage; data is lost on restart")
		return &repositories{favorites: mem, users: mem, cache: mem}, nil
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	repos := &repositories{favorites: db, users: db, cache: db, closers: []io.Closer{db}}

	if cfg.CacheBackend == config.BackendRedis {
		rdb, err := redisstore.NewRepository(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			repos.Close(log)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		repos.cache = rdb
		repos.closers = append(repos.closers, rdb)
	}
	return repos, nil
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	log := common.NewLogger(cfg.LogLevel, !cfg.IsProduction())

	// Exit only after run's deferred cleanup has closed the stores.
	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log zerolog.Logger) error {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repos.Close(log)

	collector := metrics.NewCollector("weather_dashboard")

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	memCache := cache.New(
		cache.WithDefaultTTL(cfg.CacheDefaultTTL),
		cache.WithLogger(log),
		cache.WithObserver(collector),
	)
	persistent := weathercache.New(repos.cache, weathercache.Config{
		SchemaVersion: weather.PayloadSchemaVersion,
		Logger:        log,
		Observer:      collector,
	})

	if cfg.OpenWeatherAPIKey == "" {
		log.Warn().Msg("OPENWEATHER_API_KEY is not set; weather reads will fail")
	}
	gateway := providers.NewOpenWeatherGateway(providers.OpenWeatherConfig{
		APIKey:   cfg.OpenWeatherAPIKey,
		BaseURL:  cfg.OpenWeatherBaseURL,
		GeoURL:   cfg.OpenWeatherGeoURL,
		Client:   httpClient,
		Observer: collector,
		Logger:   log,
	})
	weatherSvc := weather.NewService(gateway, memCache,
		weather.WithPersistentCache(persistent),
		weather.WithLogger(log),
	)

	favoritesSvc := favorites.NewService(repos.favorites,
		favorites.WithLogger(log),
		favorites.WithObserver(collector),
	)
	usersSvc := users.NewService(repos.users, users.WithLogger(log))

	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTExpiresIn,
		RefreshTTL:    cfg.JWTRefreshExpires,
		Issuer:        cfg.JWTIssuer,
	}, nil)
	if err != nil {
		return fmt.Errorf("configure tokens: %w", err)
	}
	if cfg.FirebaseProjectID == "" {
		log.Warn().Msg("FIREBASE_PROJECT_ID is not set; Google sign-in is disabled")
	}
	verifier := auth.NewFirebaseVerifier(auth.FirebaseConfig{
		ProjectID: cfg.FirebaseProjectID,
		Client:    httpClient,
		Cache:     memCache,
		Logger:    log,
	})
	authSvc := auth.NewService(verifier, tokens, usersSvc, log)

	// Housekeeping: expired entries are already invisible, sweeps only reclaim space.
	sched := scheduler.New(log,
		scheduler.Job{
			Name:     "memory-cache-sweep",
			Interval: cfg.CacheCheckPeriod,
			Run: func(context.Context) error {
				memCache.Sweep()
				return nil
			},
		},
		scheduler.Job{
			Name:     "persistent-cache-purge",
			Interval: cfg.CachePurgeInterval,
			Run: func(ctx context.Context) error {
				_, err := persistent.Purge(ctx)
				return err
			},
		},
	)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := httpapi.NewApp(httpapi.Deps{
		Weather:   weatherSvc,
		Favorites: favoritesSvc,
		Users:     usersSvc,
		Auth:      authSvc,
		Cache:     memCache,
		Metrics:   collector,
		Limits: httpapi.Limits{
			API:     cfg.APILimit(),
			Weather: cfg.WeatherLimit(),
			Search:  cfg.SearchLimit(),
			Auth:    cfg.AuthLimit(),
		},
		Origins:     cfg.Origins(),
		Environment: cfg.Env,
		Logger:      log,
	})

	// Start server with graceful shutdown
	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.CacheBackend).Msg("server listening")
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("fiber server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
