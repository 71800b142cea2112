package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/common"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

const (
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
	DefaultGeoURL  = "https://api.openweathermap.org/geo/1.0"
)

// Operation labels reported to the Observer.
const (
	OpCurrent  = "current"
	OpForecast = "forecast"
	OpSearch   = "search"
)

// OpenWeatherConfig configures OpenWeatherGateway. Client carries the
// request timeout.
type OpenWeatherConfig struct {
	APIKey   string
	BaseURL  string
	GeoURL   string
	Client   *http.Client
	Observer Observer
	Logger   zerolog.Logger
}

// OpenWeatherGateway implements weather.Gateway for OpenWeatherMap.
type OpenWeatherGateway struct {
	apiKey   string
	baseURL  string
	geoURL   string
	client   *http.Client
	circuit  *gobreaker.CircuitBreaker
	observer Observer
	log      zerolog.Logger
}

func NewOpenWeatherGateway(cfg OpenWeatherConfig) *OpenWeatherGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	log := cfg.Logger.With().Str("component", "openweather").Logger()
	return &OpenWeatherGateway{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		geoURL:   strings.TrimRight(cfg.GeoURL, "/"),
		client:   cfg.Client,
		circuit:  newCircuitBreaker("openweather", log),
		observer: cfg.Observer,
		log:      log,
	}
}

type owmConditions []struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owmCurrent struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather owmConditions `json:"weather"`
	Main    struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Pressure  float64 `json:"pressure"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Dt  int64 `json:"dt"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int `json:"timezone"`
}

type owmForecast struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
			Pressure  float64 `json:"pressure"`
			Humidity  float64 `json:"humidity"`
		} `json:"main"`
		Weather owmConditions `json:"weather"`
		Clouds  struct {
			All int `json:"all"`
		} `json:"clouds"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
		Pop  float64 `json:"pop"`
		Rain struct {
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Snow struct {
			ThreeH float64 `json:"3h"`
		} `json:"snow"`
		DtTxt string `json:"dt_txt"`
	} `json:"list"`
	City struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
		Country    string `json:"country"`
		Population int64  `json:"population"`
		Timezone   int    `json:"timezone"`
		Sunrise    int64  `json:"sunrise"`
		Sunset     int64  `json:"sunset"`
	} `json:"city"`
}

type owmGeo struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

func (p *OpenWeatherGateway) Current(ctx context.Context, loc weather.Location) (weather.CurrentWeather, error) {
	var payload owmCurrent
	if err := p.get(ctx, OpCurrent, p.baseURL+"/weather", locationParams(loc), &payload); err != nil {
		return weather.CurrentWeather{}, err
	}

	return weather.CurrentWeather{
		ID:          payload.ID,
		Name:        payload.Name,
		Country:     payload.Sys.Country,
		Coordinates: weather.Coordinates{Lat: payload.Coord.Lat, Lon: payload.Coord.Lon},
		Weather:     mapConditions(payload.Weather),
		Temperature: weather.Temperature{
			Current:   payload.Main.Temp,
			FeelsLike: payload.Main.FeelsLike,
			Min:       payload.Main.TempMin,
			Max:       payload.Main.TempMax,
		},
		Humidity:   payload.Main.Humidity,
		Pressure:   payload.Main.Pressure,
		Visibility: payload.Visibility,
		Wind:       weather.Wind{Speed: payload.Wind.Speed, Direction: payload.Wind.Deg},
		Clouds:     payload.Clouds.All,
		Sunrise:    payload.Sys.Sunrise,
		Sunset:     payload.Sys.Sunset,
		Timezone:   payload.Timezone,
		Timestamp:  payload.Dt,
	}, nil
}

func (p *OpenWeatherGateway) Forecast(ctx context.Context, loc weather.Location) (weather.Forecast, error) {
	var payload owmForecast
	if err := p.get(ctx, OpForecast, p.baseURL+"/forecast", locationParams(loc), &payload); err != nil {
		return weather.Forecast{}, err
	}

	out := weather.Forecast{
		City: weather.ForecastCity{
			ID:          payload.City.ID,
			Name:        payload.City.Name,
			Country:     payload.City.Country,
			Coordinates: weather.Coordinates{Lat: payload.City.Coord.Lat, Lon: payload.City.Coord.Lon},
			Population:  payload.City.Population,
			Timezone:    payload.City.Timezone,
			Sunrise:     payload.City.Sunrise,
			Sunset:      payload.City.Sunset,
		},
		List: make([]weather.ForecastEntry, 0, len(payload.List)),
	}
	for _, e := range payload.List {
		out.List = append(out.List, weather.ForecastEntry{
			Timestamp: e.Dt,
			Time:      e.DtTxt,
			Temperature: weather.Temperature{
				Current:   e.Main.Temp,
				FeelsLike: e.Main.FeelsLike,
				Min:       e.Main.TempMin,
				Max:       e.Main.TempMax,
			},
			Humidity:          e.Main.Humidity,
			Pressure:          e.Main.Pressure,
			Weather:           mapConditions(e.Weather),
			Wind:              weather.Wind{Speed: e.Wind.Speed, Direction: e.Wind.Deg},
			Clouds:            e.Clouds.All,
			PrecipProbability: e.Pop,
			RainMM:            e.Rain.ThreeH,
			SnowMM:            e.Snow.ThreeH,
		})
	}
	return out, nil
}

func (p *OpenWeatherGateway) SearchCities(ctx context.Context, query string, limit int) ([]weather.City, error) {
	values := url.Values{}
	values.Set("q", query)
	values.Set("limit", strconv.Itoa(limit))

	var payload []owmGeo
	if err := p.get(ctx, OpSearch, p.geoURL+"/direct", values, &payload); err != nil {
		return nil, err
	}

	cities := make([]weather.City, 0, len(payload))
	for _, g := range payload {
		display := g.Name + ", " + g.Country
		if g.State != "" {
			display = g.Name + ", " + g.State + ", " + g.Country
		}
		cities = append(cities, weather.City{
			Name:        g.Name,
			Country:     g.Country,
			State:       g.State,
			Lat:         g.Lat,
			Lon:         g.Lon,
			DisplayName: display,
		})
	}
	return cities, nil
}

// get performs one call and maps the result onto the apperr kinds.
func (p *OpenWeatherGateway) get(ctx context.Context, op, endpoint string, values url.Values, out any) error {
	if p.apiKey == "" {
		p.observe(op, OutcomeUnavailable)
		return apperr.New(apperr.ErrUpstreamUnavailable, "openweather api key is not configured")
	}
	values.Set("appid", p.apiKey)
	if op != OpSearch {
		values.Set("units", "metric")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	if err != nil {
		p.observe(op, OutcomeUnavailable)
		return apperr.Wrap(apperr.ErrInternal, "build upstream request", err)
	}

	resp, err := doRequest(ctx, p.client, p.circuit, req)
	if err != nil {
		outcome := OutcomeUnavailable
		if errors.Is(err, errCircuitOpen) {
			outcome = OutcomeCircuitOpen
		}
		p.observe(op, outcome)
		p.log.Warn().Err(err).Str("operation", op).Msg("upstream call failed")
		return apperr.Wrap(apperr.ErrUpstreamUnavailable, "weather service unavailable", err)
	}

	switch {
	case resp.status == http.StatusNotFound:
		p.observe(op, OutcomeNotFound)
		return apperr.NotFound("city not found")
	case resp.status == http.StatusBadRequest:
		p.observe(op, OutcomeRejected)
		return apperr.BadRequest(upstreamMessage(resp.body))
	case resp.status < 200 || resp.status >= 300:
		p.observe(op, OutcomeUnavailable)
		msg := upstreamMessage(resp.body)
		p.log.Warn().Int("status", resp.status).Str("operation", op).Str("message", msg).Msg("unexpected upstream status")
		return apperr.Wrap(apperr.ErrUpstreamUnavailable, "weather service unavailable",
			fmt.Errorf("status %d: %s", resp.status, msg))
	}

	if err := json.Unmarshal(resp.body, out); err != nil {
		p.observe(op, OutcomeUnavailable)
		return apperr.Wrap(apperr.ErrUpstreamUnavailable, "malformed upstream response", err)
	}
	p.observe(op, OutcomeOK)
	return nil
}

func (p *OpenWeatherGateway) observe(op, outcome string) {
	if p.observer != nil {
		p.observer.ObserveUpstream(op, outcome)
	}
}

func locationParams(loc weather.Location) url.Values {
	values := url.Values{}
	if loc.HasCoordinates() {
		values.Set("lat", strconv.FormatFloat(*loc.Lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(*loc.Lon, 'f', -1, 64))
		return values
	}
	values.Set("q", loc.City)
	return values
}

// mapConditions normalizes the first reported condition. The main group is
// tried first, then keywords in the description.
func mapConditions(items owmConditions) weather.Conditions {
	if len(items) == 0 {
		return weather.Conditions{Condition: weather.ConditionUnknown}
	}
	first := items[0]
	out := weather.Conditions{Main: first.Main, Description: first.Description, Icon: first.Icon}

	switch first.Main {
	case "Clear":
		out.Condition = weather.ConditionClear
	case "Clouds":
		out.Condition = weather.ConditionCloudy
	case "Rain", "Drizzle":
		out.Condition = weather.ConditionRain
	case "Snow":
		out.Condition = weather.ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		out.Condition = weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand", "Ash":
		out.Condition = weather.ConditionMist
	default:
		out.Condition = conditionFromText(first.Description)
	}
	return out
}

func conditionFromText(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "snow", "sleet", "blizzard"):
		return weather.ConditionSnow
	case common.HasAny(text, "mist", "fog", "haze"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
