package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

const currentBody = `{
  "coord": {"lon": -0.1257, "lat": 51.5085},
  "weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}],
  "main": {"temp": 11.2, "feels_like": 10.1, "temp_min": 9.8, "temp_max": 12.3, "pressure": 1012, "humidity": 81},
  "visibility": 10000,
  "wind": {"speed": 4.1, "deg": 240},
  "clouds": {"all": 75},
  "dt": 1700000000,
  "sys": {"country": "GB", "sunrise": 1699990000, "sunset": 1700020000},
  "timezone": 0,
  "id": 2643743,
  "name": "London",
  "cod": 200
}`

const forecastBody = `{
  "cod": "200",
  "list": [
    {"dt": 1700006400, "main": {"temp": 10, "feels_like": 9, "temp_min": 9, "temp_max": 11, "pressure": 1010, "humidity": 80},
     "weather": [{"main": "Clouds", "description": "overcast clouds", "icon": "04d"}], "clouds": {"all": 90},
     "wind": {"speed": 3, "deg": 200}, "pop": 0.2, "dt_txt": "2023-11-15 00:00:00"},
    {"dt": 1700017200, "main": {"temp": 12, "feels_like": 11, "temp_min": 11, "temp_max": 13, "pressure": 1011, "humidity": 70},
     "weather": [{"main": "Rain", "description": "light rain", "icon": "10d"}], "clouds": {"all": 100},
     "wind": {"speed": 5, "deg": 210}, "pop": 0.8, "rain": {"3h": 1.5}, "dt_txt": "2023-11-15 03:00:00"}
  ],
  "city": {"id": 2643743, "name": "London", "coord": {"lat": 51.5085, "lon": -0.1257}, "country": "GB",
           "population": 1000000, "timezone": 0, "sunrise": 1699990000, "sunset": 1700020000}
}`

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) ObserveUpstream(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, op+":"+outcome)
}

func newGateway(t *testing.T, handler http.HandlerFunc) (*OpenWeatherGateway, *outcomeRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rec := &outcomeRecorder{}
	gw := NewOpenWeatherGateway(OpenWeatherConfig{
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/data/2.5",
		GeoURL:   srv.URL + "/geo/1.0",
		Client:   &http.Client{Timeout: 2 * time.Second},
		Observer: rec,
	})
	return gw, rec
}

func TestCurrentByCity(t *testing.T) {
	gw, rec := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		assert.Equal(t, "London", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		_, _ = w.Write([]byte(currentBody))
	})

	got, err := gw.Current(context.Background(), weather.Location{City: "London"})
	require.NoError(t, err)

	assert.Equal(t, int64(2643743), got.ID)
	assert.Equal(t, "GB", got.Country)
	assert.Equal(t, 11.2, got.Temperature.Current)
	assert.Equal(t, 10.1, got.Temperature.FeelsLike)
	assert.Equal(t, 240.0, got.Wind.Direction)
	assert.Equal(t, 75, got.Clouds)
	assert.Equal(t, weather.Conditions{Main: "Rain", Description: "light rain", Icon: "10d", Condition: weather.ConditionRain}, got.Weather)
	assert.Equal(t, []string{"current:ok"}, rec.outcomes)
}

func TestCurrentByCoordinates(t *testing.T) {
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("q"))
		assert.Equal(t, "51.5", r.URL.Query().Get("lat"))
		assert.Equal(t, "-0.12", r.URL.Query().Get("lon"))
		_, _ = w.Write([]byte(currentBody))
	})

	lat, lon := 51.5, -0.12
	_, err := gw.Current(context.Background(), weather.Location{Lat: &lat, Lon: &lon})
	require.NoError(t, err)
}

func TestForecast(t *testing.T) {
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/forecast", r.URL.Path)
		_, _ = w.Write([]byte(forecastBody))
	})

	got, err := gw.Forecast(context.Background(), weather.Location{City: "London"})
	require.NoError(t, err)

	assert.Equal(t, "London", got.City.Name)
	require.Len(t, got.List, 2)
	assert.Equal(t, weather.ConditionCloudy, got.List[0].Weather.Condition)
	assert.Equal(t, 1.5, got.List[1].RainMM)
	assert.Equal(t, 0.8, got.List[1].PrecipProbability)
	assert.Equal(t, "2023-11-15 03:00:00", got.List[1].Time)
}

func TestSearchCities(t *testing.T) {
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geo/1.0/direct", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("units"))
		_, _ = w.Write([]byte(`[
		  {"name": "Springfield", "lat": 39.8, "lon": -89.6, "country": "US", "state": "Illinois"},
		  {"name": "Springfield", "lat": -43.3, "lon": 171.9, "country": "NZ"}
		]`))
	})

	got, err := gw.SearchCities(context.Background(), "Springfield", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Springfield, Illinois, US", got[0].DisplayName)
	assert.Equal(t, "Springfield, NZ", got[1].DisplayName)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    error
		outcome string
	}{
		{"not found", http.StatusNotFound, `{"cod":"404","message":"city not found"}`, apperr.ErrNotFound, OutcomeNotFound},
		{"bad request", http.StatusBadRequest, `{"cod":"400","message":"Nothing to geocode"}`, apperr.ErrBadRequest, OutcomeRejected},
		{"unauthorized", http.StatusUnauthorized, `{"cod":401,"message":"Invalid API key"}`, apperr.ErrUpstreamUnavailable, OutcomeUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, apperr.ErrUpstreamUnavailable, OutcomeUnavailable},
		{"server error", http.StatusBadGateway, `oops`, apperr.ErrUpstreamUnavailable, OutcomeUnavailable},
		{"malformed", http.StatusOK, `{not json`, apperr.ErrUpstreamUnavailable, OutcomeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, rec := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := gw.Current(context.Background(), weather.Location{City: "Nowhere"})
			require.ErrorIs(t, err, tc.kind)
			assert.Equal(t, []string{"current:" + tc.outcome}, rec.outcomes)
		})
	}
}

func TestBadRequestMessageIsPreserved(t *testing.T) {
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"cod":"400","message":"wrong latitude"}`))
	})

	_, err := gw.Current(context.Background(), weather.Location{City: "x"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "wrong latitude", appErr.Message())
}

func TestMissingAPIKey(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	t.Cleanup(srv.Close)

	gw := NewOpenWeatherGateway(OpenWeatherConfig{BaseURL: srv.URL, Client: srv.Client()})
	_, err := gw.Current(context.Background(), weather.Location{City: "London"})
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "api key is not configured")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSingleAttemptAndBreakerOpens(t *testing.T) {
	var calls int32
	gw, rec := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()

	_, err := gw.Current(ctx, weather.Location{City: "London"})
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no retries")

	// The default breaker trips after more than five consecutive failures.
	for i := 0; i < 5; i++ {
		_, _ = gw.Current(ctx, weather.Location{City: "London"})
	}
	before := atomic.LoadInt32(&calls)
	_, err = gw.Current(ctx, weather.Location{City: "London"})
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "open breaker short-circuits")
	assert.Equal(t, "current:"+OutcomeCircuitOpen, rec.outcomes[len(rec.outcomes)-1])
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int32
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 10; i++ {
		_, err := gw.Current(context.Background(), weather.Location{City: "Atlantis"})
		require.ErrorIs(t, err, apperr.ErrNotFound)
	}
	assert.Equal(t, int32(10), atomic.LoadInt32(&calls))
}

func TestTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	gw := NewOpenWeatherGateway(OpenWeatherConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		Client:  &http.Client{Timeout: 50 * time.Millisecond},
	})
	_, err := gw.Current(context.Background(), weather.Location{City: "London"})
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestMapConditionsFallsBackToDescription(t *testing.T) {
	got := mapConditions(owmConditions{{Main: "Unusual", Description: "heavy thunderstorm nearby"}})
	assert.Equal(t, weather.ConditionStorm, got.Condition)

	assert.Equal(t, weather.ConditionMist, mapConditions(owmConditions{{Main: "Fog"}}).Condition)
	assert.Equal(t, weather.ConditionUnknown, mapConditions(nil).Condition)
}
