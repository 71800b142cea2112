// Package weathercache is the shared, persistent cache tier for weather
// payloads. Records are keyed by (entity id, kind) and written with upsert
// semantics, so there is never more than one record per pair.
package weathercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
)

// Kind is the type of weather artifact held in a record.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindForecast Kind = "forecast"
	KindHourly   Kind = "hourly"
)

// TierPersistent is the tier label reported to the Observer.
const TierPersistent = "persistent"

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCurrent, KindForecast, KindHourly:
		return true
	}
	return false
}

// Record is one cached payload.
type Record struct {
	EntityID      string
	DisplayName   string
	Kind          Kind
	SchemaVersion int
	Payload       json.RawMessage
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

// Repository is the storage port. FindLive must ignore records whose ExpiresAt
// is not strictly after now and return apperr.ErrNotFound for them.
type Repository interface {
	FindLive(ctx context.Context, entityID string, kind Kind, now time.Time) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Observer receives hit/miss notifications.
type Observer interface {
	ObserveCache(tier string, hit bool)
}

// Cache implements get-or-fetch over a Repository.
type Cache struct {
	repo          Repository
	schemaVersion int
	now           func() time.Time
	log           zerolog.Logger
	observer      Observer
}

// Config holds the optional Cache collaborators.
type Config struct {
	SchemaVersion int
	Now           func() time.Time
	Logger        zerolog.Logger
	Observer      Observer
}

// New wraps repo. A zero Config is valid.
func New(repo Repository, cfg Config) *Cache {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		repo:          repo,
		schemaVersion: cfg.SchemaVersion,
		now:           cfg.Now,
		log:           cfg.Logger.With().Str("component", "weather-cache").Logger(),
		observer:      cfg.Observer,
	}
}

// GetOrFetch returns the live payload for (entityID, kind) or calls fetch,
// upserts the result with expiry now+ttl and returns the fresh payload.
// Repository failures degrade to a miss; only fetch errors reach the caller.
func (c *Cache) GetOrFetch(
	ctx context.Context,
	entityID, displayName string,
	kind Kind,
	ttl time.Duration,
	fetch func(ctx context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	entityID = strings.ToLower(strings.TrimSpace(entityID))
	if entityID == "" {
		return nil, apperr.BadRequest("cache entity id is required")
	}
	if !kind.Valid() {
		return nil, apperr.BadRequest(fmt.Sprintf("unknown weather cache kind %q", kind))
	}
	if ttl <= 0 {
		return nil, apperr.BadRequest("cache ttl must be positive")
	}

	now := c.now()
	rec, err := c.repo.FindLive(ctx, entityID, kind, now)
	switch {
	case err == nil && rec.SchemaVersion == c.schemaVersion:
		c.observe(true)
		return rec.Payload, nil
	case err == nil:
		c.log.Debug().Str("entity", entityID).Str("kind", string(kind)).
			Int("stored_version", rec.SchemaVersion).Int("version", c.schemaVersion).
			Msg("schema version mismatch; treating as miss")
	case errors.Is(err, apperr.ErrNotFound):
	default:
		c.log.Warn().Err(err).Str("entity", entityID).Str("kind", string(kind)).Msg("cache lookup failed; treating as miss")
	}
	c.observe(false)

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.store(ctx, entityID, displayName, kind, ttl, payload, now)
	return payload, nil
}

// store upserts a fresh record. A failed write is logged and otherwise ignored.
func (c *Cache) store(ctx context.Context, entityID, displayName string, kind Kind, ttl time.Duration, payload json.RawMessage, now time.Time) {
	err := c.repo.Upsert(ctx, Record{
		EntityID:      entityID,
		DisplayName:   displayName,
		Kind:          kind,
		SchemaVersion: c.schemaVersion,
		Payload:       payload,
		ExpiresAt:     now.Add(ttl),
		UpdatedAt:     now,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("entity", entityID).Str("kind", string(kind)).Msg("cache upsert failed")
	}
}

// Purge deletes expired records. Correctness never depends on it.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	n, err := c.repo.PurgeExpired(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired weather cache: %w", err)
	}
	if n > 0 {
		c.log.Info().Int64("removed", n).Msg("purged expired weather cache records")
	}
	return n, nil
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCache(TierPersistent, hit)
	}
}

// Fetch is the typed form of GetOrFetch. A stored payload that no longer
// decodes into T is refetched.
func Fetch[T any](
	ctx context.Context,
	c *Cache,
	entityID, displayName string,
	kind Kind,
	ttl time.Duration,
	fetch func(ctx context.Context) (T, error),
) (T, error) {
	var fetched *T
	raw, err := c.GetOrFetch(ctx, entityID, displayName, kind, ttl, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		fetched = &v
		return json.Marshal(v)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if fetched != nil {
		return *fetched, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn().Err(err).Str("entity", entityID).Str("kind", string(kind)).Msg("stored payload does not decode; refetching")
		v, ferr := fetch(ctx)
		if ferr != nil {
			return out, ferr
		}
		payload, merr := json.Marshal(v)
		if merr != nil {
			c.log.Warn().Err(merr).Str("entity", entityID).Str("kind", string(kind)).Msg("refetched payload does not encode; not stored")
			return v, nil
		}
		c.store(ctx, strings.ToLower(strings.TrimSpace(entityID)), displayName, kind, ttl, payload, c.now())
		return v, nil
	}
	return out, nil
}
