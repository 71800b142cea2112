package cache

import "strings"

// Domain namespaces cache keys so unrelated callers cannot collide.
type Domain string

const (
	DomainWeather Domain = "weather"
	DomainAuth    Domain = "auth"
)

// Operation names the cached read within a domain.
type Operation string

const (
	OpCurrent  Operation = "current"
	OpForecast Operation = "forecast"
	OpHourly   Operation = "hourly"
	OpSearch   Operation = "search"
	OpCerts    Operation = "certs"
)

// Key identifies a cache entry. Two keys are equal only when all three parts
// match, so a weather search for "current" never aliases a current-weather key.
type Key struct {
	Domain     Domain
	Operation  Operation
	Identifier string
}

// NewKey normalizes the identifier (trimmed, lowercased).
func NewKey(domain Domain, op Operation, identifier string) Key {
	return Key{
		Domain:     domain,
		Operation:  op,
		Identifier: strings.ToLower(strings.TrimSpace(identifier)),
	}
}

// WeatherKey is shorthand for a key in the weather domain.
func WeatherKey(op Operation, identifier string) Key {
	return NewKey(DomainWeather, op, identifier)
}

// String renders "<domain>:<operation>:<identifier>" for logs and metrics.
func (k Key) String() string {
	return string(k.Domain) + ":" + string(k.Operation) + ":" + k.Identifier
}
