package weather

import (
	"context"
	"strconv"
)

// Location identifies the place a gateway call is about. When Lat and Lon
// are both set they take precedence over City.
type Location struct {
	City string
	Lat  *float64
	Lon  *float64
}

// HasCoordinates reports whether the location is addressed by coordinates.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Key returns a canonical string for logs.
func (l Location) Key() string {
	if l.HasCoordinates() {
		return strconv.FormatFloat(*l.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(*l.Lon, 'f', 4, 64)
	}
	return l.City
}

// Gateway abstracts the upstream weather provider. Implementations report
// failures with the apperr kinds: NotFound for an unknown city, BadRequest
// for a rejected query and UpstreamUnavailable for everything else.
type Gateway interface {
	Current(ctx context.Context, loc Location) (CurrentWeather, error)
	Forecast(ctx context.Context, loc Location) (Forecast, error)
	SearchCities(ctx context.Context, query string, limit int) ([]City, error)
}
