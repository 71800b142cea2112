package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/auth"
	"github.com/i474232898/weather-dashboard/internal/cache"
	"github.com/i474232898/weather-dashboard/internal/config"
	"github.com/i474232898/weather-dashboard/internal/favorites"
	"github.com/i474232898/weather-dashboard/internal/metrics"
	"github.com/i474232898/weather-dashboard/internal/store"
	"github.com/i474232898/weather-dashboard/internal/users"
	"github.com/i474232898/weather-dashboard/internal/weather"
	"github.com/i474232898/weather-dashboard/internal/weathercache"
)

type stubGateway struct{}

func (stubGateway) Current(_ context.Context, loc weather.Location) (weather.CurrentWeather, error) {
	if strings.EqualFold(loc.City, "Atlantis") {
		return weather.CurrentWeather{}, apperr.NotFound("city not found")
	}
	return weather.CurrentWeather{Name: loc.City, Temperature: weather.Temperature{Current: 18}}, nil
}

func (stubGateway) Forecast(_ context.Context, loc weather.Location) (weather.Forecast, error) {
	f := weather.Forecast{City: weather.ForecastCity{Name: loc.City}}
	for i := 0; i < 40; i++ {
		f.List = append(f.List, weather.ForecastEntry{Timestamp: int64(1700000000 + i*10800)})
	}
	return f, nil
}

func (stubGateway) SearchCities(_ context.Context, q string, _ int) ([]weather.City, error) {
	return []weather.City{{Name: q, Country: "FR", DisplayName: q + ", FR"}}, nil
}

// countingGateway counts upstream calls per operation.
type countingGateway struct {
	stubGateway
	current atomic.Int32
	search  atomic.Int32
}

func (g *countingGateway) Current(ctx context.Context, loc weather.Location) (weather.CurrentWeather, error) {
	g.current.Add(1)
	return g.stubGateway.Current(ctx, loc)
}

func (g *countingGateway) SearchCities(ctx context.Context, q string, limit int) ([]weather.City, error) {
	g.search.Add(1)
	return g.stubGateway.SearchCities(ctx, q, limit)
}

// tokenVerifier accepts "google:<uid>" as an ID token.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, idToken string) (users.GoogleIdentity, error) {
	uid, ok := strings.CutPrefix(idToken, "google:")
	if !ok || uid == "" {
		return users.GoogleIdentity{}, apperr.New(apperr.ErrUnauthorized, "Google authentication failed")
	}
	return users.GoogleIdentity{GoogleID: uid, Email: uid + "@example.com", Name: "User " + uid}, nil
}

func generous() config.RateLimit {
	return config.RateLimit{Max: 1000, Window: time.Minute}
}

func newTestApp(t *testing.T, tweak ...func(*Deps)) *fiber.App {
	t.Helper()
	mem := store.NewMemoryStore()
	accounts := users.NewService(mem)
	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  "a",
		RefreshSecret: "r",
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour,
		Issuer:        "weather-dashboard",
	}, nil)
	require.NoError(t, err)

	memCache := cache.New()
	d := Deps{
		Weather:     weather.NewService(stubGateway{}, memCache),
		Favorites:   favorites.NewService(mem),
		Users:       accounts,
		Auth:        auth.NewService(tokenVerifier{}, tokens, accounts, zerolog.Nop()),
		Cache:       memCache,
		Metrics:     metrics.NewCollector("weather"),
		Limits:      Limits{API: generous(), Weather: generous(), Search: generous(), Auth: generous()},
		Environment: "test",
		Logger:      zerolog.Nop(),
		AccessLog:   io.Discard,
	}
	for _, fn := range tweak {
		fn(&d)
	}
	return NewApp(d)
}

type response struct {
	status int
	body   map[string]any
	raw    string
}

func do(t *testing.T, app *fiber.App, method, path, token string, body any) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode, raw: string(raw)}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func data(t *testing.T, r response) map[string]any {
	t.Helper()
	d, ok := r.body["data"].(map[string]any)
	require.True(t, ok, r.raw)
	return d
}

func login(t *testing.T, app *fiber.App, uid string) (access, refresh string) {
	t.Helper()
	r := do(t, app, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "google:" + uid})
	require.Equal(t, http.StatusOK, r.status, r.raw)
	d := data(t, r)
	return d["accessToken"].(string), d["refreshToken"].(string)
}

func TestHealthAndIndex(t *testing.T) {
	app := newTestApp(t)

	r := do(t, app, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, true, r.body["success"])
	assert.Equal(t, "Server is healthy", r.body["message"])
	d := data(t, r)
	assert.Equal(t, "test", d["environment"])
	assert.Contains(t, d, "cache")
	assert.NotEmpty(t, r.body["timestamp"])

	r = do(t, app, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, data(t, r), "endpoints")
}

func TestUnknownRouteIsEnvelope404(t *testing.T) {
	app := newTestApp(t)
	r := do(t, app, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, false, r.body["success"])
	assert.Contains(t, r.body["message"], "Route not found")
}

func TestWeatherRoutes(t *testing.T) {
	app := newTestApp(t)

	r := do(t, app, http.MethodGet, "/api/weather/current/New%20York", "", nil)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, "Current weather retrieved successfully", r.body["message"])
	assert.Equal(t, "New York", data(t, r)["name"])

	r = do(t, app, http.MethodGet, "/api/weather/forecast/Paris", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Len(t, data(t, r)["list"], 40)
	assert.NotEmpty(t, data(t, r)["daily"])

	r = do(t, app, http.MethodGet, "/api/weather/hourly/Paris", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Len(t, data(t, r)["list"], weather.HourlyEntries)

	r = do(t, app, http.MethodGet, "/api/weather/current/Atlantis", "", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "city not found", r.body["message"])

	r = do(t, app, http.MethodGet, "/api/weather/current/R2D2", "", nil)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestWeatherCacheKeysSurviveLaterRequests(t *testing.T) {
	gw := &countingGateway{}
	var memCache *cache.Store
	app := newTestApp(t, func(d *Deps) {
		memCache = d.Cache
		persistent := weathercache.New(store.NewMemoryStore(), weathercache.Config{SchemaVersion: weather.PayloadSchemaVersion})
		d.Weather = weather.NewService(gw, d.Cache, weather.WithPersistentCache(persistent))
	})

	for _, path := range []string{
		"/api/weather/current/london",
		"/api/weather/current/paris",
		"/api/weather/search?q=zz",
		"/api/weather/current/london",
		"/api/weather/search?q=zz",
	} {
		r := do(t, app, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, r.status, path)
	}

	assert.Equal(t, int32(2), gw.current.Load())
	assert.Equal(t, int32(1), gw.search.Load())
	assert.True(t, memCache.Has(cache.WeatherKey(cache.OpCurrent, "london")))
	assert.True(t, memCache.Has(cache.WeatherKey(cache.OpCurrent, "paris")))
	assert.True(t, memCache.Has(cache.WeatherKey(cache.OpSearch, "zz")))
	assert.Equal(t, 3, memCache.Stats().Keys)
}

func TestWeatherSearchAndCoords(t *testing.T) {
	app := newTestApp(t)

	r := do(t, app, http.MethodGet, "/api/weather/search?q=p", "", nil)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "Search query must be at least 2 characters", r.body["message"])

	r = do(t, app, http.MethodGet, "/api/weather/search?q=Par", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "Cities found", r.body["message"])

	r = do(t, app, http.MethodGet, "/api/weather/coords?lat=48.8&lon=2.3", "", nil)
	assert.Equal(t, http.StatusOK, r.status)

	for _, q := range []string{"lat=91&lon=0", "lat=abc&lon=0", "lon=2"} {
		r = do(t, app, http.MethodGet, "/api/weather/coords?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, r.status, q)
		assert.Equal(t, "Invalid coordinates", r.body["message"], q)
	}
}

func TestWeatherAcceptsBadTokenAnonymously(t *testing.T) {
	app := newTestApp(t)
	r := do(t, app, http.MethodGet, "/api/weather/current/London", "not-a-token", nil)
	assert.Equal(t, http.StatusOK, r.status)
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t)

	r := do(t, app, http.MethodPost, "/api/auth/google", "", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.NotEmpty(t, r.body["errors"])

	r = do(t, app, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "forged"})
	assert.Equal(t, http.StatusUnauthorized, r.status)

	access, refresh := login(t, app, "ada")

	r = do(t, app, http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, r.status)
	user := data(t, r)["user"].(map[string]any)
	assert.Equal(t, "ada@example.com", user["email"])

	r = do(t, app, http.MethodPost, "/api/auth/refresh", "", fiber.Map{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, r.status)
	assert.NotEmpty(t, data(t, r)["accessToken"])

	r = do(t, app, http.MethodPost, "/api/auth/refresh", "", fiber.Map{"refreshToken": access})
	assert.Equal(t, http.StatusUnauthorized, r.status)

	r = do(t, app, http.MethodPost, "/api/auth/logout", access, nil)
	assert.Equal(t, http.StatusOK, r.status)

	r = do(t, app, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)
	assert.Equal(t, "Not authorized to access this route. Please login.", r.body["message"])
}

func TestAuthLimiterSkipsSuccessfulLogins(t *testing.T) {
	app := newTestApp(t, func(d *Deps) {
		d.Limits.Auth = config.RateLimit{Max: 2, Window: time.Minute}
	})

	for i := 0; i < 4; i++ {
		login(t, app, "ada")
	}

	for i := 0; i < 2; i++ {
		r := do(t, app, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "bad"})
		assert.Equal(t, http.StatusUnauthorized, r.status)
	}
	r := do(t, app, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "bad"})
	assert.Equal(t, http.StatusTooManyRequests, r.status)
	assert.Equal(t, "Too many authentication attempts, please try again later.", r.body["message"])
}

func TestProfileRoutes(t *testing.T) {
	app := newTestApp(t)
	access, _ := login(t, app, "grace")

	r := do(t, app, http.MethodGet, "/api/users/profile", access, nil)
	require.Equal(t, http.StatusOK, r.status)

	r = do(t, app, http.MethodPut, "/api/users/profile", access, fiber.Map{"name": "Grace Hopper"})
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, "Grace Hopper", data(t, r)["user"].(map[string]any)["name"])

	r = do(t, app, http.MethodPut, "/api/users/profile", access, fiber.Map{"name": "G"})
	assert.Equal(t, http.StatusBadRequest, r.status)
	errs := r.body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "name", errs[0].(map[string]any)["field"])

	r = do(t, app, http.MethodPut, "/api/users/preferences", access, fiber.Map{"theme": "dark"})
	require.Equal(t, http.StatusOK, r.status)
	prefs := data(t, r)["preferences"].(map[string]any)
	assert.Equal(t, "dark", prefs["theme"])
	assert.Equal(t, "C", prefs["temperatureUnit"])

	r = do(t, app, http.MethodPut, "/api/users/preferences", access, fiber.Map{"temperatureUnit": "K"})
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = do(t, app, http.MethodDelete, "/api/users/profile", access, nil)
	require.Equal(t, http.StatusOK, r.status)

	r = do(t, app, http.MethodGet, "/api/users/profile", access, nil)
	assert.Equal(t, http.StatusForbidden, r.status)
	assert.Equal(t, "User account is inactive", r.body["message"])
}

func favoriteOrder(t *testing.T, r response) []string {
	t.Helper()
	var out []string
	for _, f := range data(t, r)["favorites"].([]any) {
		out = append(out, f.(map[string]any)["cityId"].(string))
	}
	return out
}

func TestFavoritesRoutes(t *testing.T) {
	app := newTestApp(t)
	access, _ := login(t, app, "linus")

	r := do(t, app, http.MethodGet, "/api/favorites", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)

	ids := map[string]string{}
	for _, city := range []string{"London", "Paris", "Tokyo"} {
		r = do(t, app, http.MethodPost, "/api/favorites", access, fiber.Map{
			"cityId": strings.ToLower(city), "cityName": city,
			"coordinates": fiber.Map{"lat": 10, "lon": 20},
		})
		require.Equal(t, http.StatusCreated, r.status, r.raw)
		fav := data(t, r)["favorite"].(map[string]any)
		ids[city] = fav["id"].(string)
	}

	r = do(t, app, http.MethodPost, "/api/favorites", access, fiber.Map{
		"cityId": "paris", "cityName": "Paris",
		"coordinates": fiber.Map{"lat": 48.85, "lon": 2.35},
	})
	assert.Equal(t, http.StatusConflict, r.status)
	assert.Equal(t, "City already in favorites", r.body["message"])

	r = do(t, app, http.MethodPost, "/api/favorites", access, fiber.Map{"cityId": "x"})
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.NotEmpty(t, r.body["errors"])

	r = do(t, app, http.MethodPost, "/api/favorites", access, fiber.Map{"cityId": "oslo", "cityName": "Oslo"})
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Contains(t, r.raw, "coordinates is required")

	r = do(t, app, http.MethodGet, "/api/favorites", access, nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, float64(3), data(t, r)["count"])
	assert.Equal(t, []string{"london", "paris", "tokyo"}, favoriteOrder(t, r))

	r = do(t, app, http.MethodPatch, "/api/favorites/tokyo/order", access, fiber.Map{"order": 0})
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, []string{"tokyo", "london", "paris"}, favoriteOrder(t, r))

	r = do(t, app, http.MethodPatch, "/api/favorites/tokyo/order", access, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = do(t, app, http.MethodPut, "/api/favorites/order", access, fiber.Map{"favorites": []fiber.Map{
		{"cityId": "paris", "order": 0}, {"cityId": "tokyo", "order": 1}, {"cityId": "london", "order": 2},
	}})
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, []string{"paris", "tokyo", "london"}, favoriteOrder(t, r))

	r = do(t, app, http.MethodPut, "/api/favorites/order", access, fiber.Map{"favorites": []fiber.Map{
		{"cityId": "paris", "order": 0}, {"cityId": "tokyo", "order": 0}, {"cityId": "london", "order": 2},
	}})
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = do(t, app, http.MethodDelete, "/api/favorites/"+ids["Tokyo"], access, nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "City removed from favorites", r.body["message"])

	r = do(t, app, http.MethodDelete, "/api/favorites/"+ids["Tokyo"], access, nil)
	assert.Equal(t, http.StatusNotFound, r.status)

	r = do(t, app, http.MethodGet, "/api/favorites", access, nil)
	assert.Equal(t, []string{"paris", "london"}, favoriteOrder(t, r))
}

func TestFavoritesAreScopedToUser(t *testing.T) {
	app := newTestApp(t)
	alice, _ := login(t, app, "alice")
	bob, _ := login(t, app, "bob")

	r := do(t, app, http.MethodPost, "/api/favorites", alice, fiber.Map{
		"cityId": "oslo", "cityName": "Oslo",
		"coordinates": fiber.Map{"lat": 59.91, "lon": 10.75},
	})
	require.Equal(t, http.StatusCreated, r.status)
	id := data(t, r)["favorite"].(map[string]any)["id"].(string)

	r = do(t, app, http.MethodDelete, "/api/favorites/"+id, bob, nil)
	assert.Equal(t, http.StatusNotFound, r.status)

	r = do(t, app, http.MethodGet, "/api/favorites", bob, nil)
	assert.Equal(t, float64(0), data(t, r)["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	do(t, app, http.MethodGet, "/health", "", nil)

	r := do(t, app, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, r.raw, "weather_http_requests_total")
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.BadRequest("bad"), 400, "bad"},
		{apperr.New(apperr.ErrUnauthorized, "who"), 401, "who"},
		{apperr.New(apperr.ErrForbidden, "no"), 403, "no"},
		{apperr.NotFound("gone"), 404, "gone"},
		{apperr.Conflict("dup"), 409, "dup"},
		{apperr.New(apperr.ErrUpstreamUnavailable, "down"), 503, "down"},
		{apperr.Wrap(apperr.ErrInternal, "db exploded", io.EOF), 500, "Internal Server Error"},
		{io.EOF, 500, "Internal Server Error"},
		{fiber.NewError(fiber.StatusTooManyRequests, "slow"), 429, "slow"},
		{apperr.Wrap(apperr.ErrBadRequest, "Invalid request body", fiber.ErrUnprocessableEntity), 400, "Invalid request body"},
	}
	for _, tc := range cases {
		status, msg := statusOf(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.msg, msg, tc.err.Error())
	}
}
