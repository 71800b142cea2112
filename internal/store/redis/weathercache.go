// Package redis provides a Redis-backed persistent weather cache tier that
// several instances can share.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/weathercache"
)

const keyPrefix = "weathercache:v1:"

// Config holds the connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Repository implements weathercache.Repository. Each (entity, kind) pair is
// one key whose Redis expiry matches the record's ExpiresAt, so expired
// records are removed by Redis itself.
type Repository struct {
	client *goredis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewRepository connects to Redis and pings it before returning.
func NewRepository(ctx context.Context, cfg Config, logger zerolog.Logger) (*Repository, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("connected to redis")
	return NewFromClient(client, logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client, logger zerolog.Logger) *Repository {
	return &Repository{
		client: client,
		logger: logger.With().Str("component", "redis-weather-cache").Logger(),
		now:    time.Now,
	}
}

type storedRecord struct {
	EntityID      string          `json:"entityId"`
	DisplayName   string          `json:"displayName"`
	Kind          string          `json:"kind"`
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func recordKey(entityID string, kind weathercache.Kind) string {
	return keyPrefix + string(kind) + ":" + entityID
}

// FindLive returns the record if it exists and expires after now.
func (r *Repository) FindLive(ctx context.Context, entityID string, kind weathercache.Kind, now time.Time) (weathercache.Record, error) {
	raw, err := r.client.Get(ctx, recordKey(entityID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return weathercache.Record{}, apperr.ErrNotFound
		}
		return weathercache.Record{}, fmt.Errorf("get weather cache record: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return weathercache.Record{}, fmt.Errorf("decode weather cache record: %w", err)
	}
	if !stored.ExpiresAt.After(now) {
		return weathercache.Record{}, apperr.ErrNotFound
	}
	return weathercache.Record{
		EntityID:      stored.EntityID,
		DisplayName:   stored.DisplayName,
		Kind:          weathercache.Kind(stored.Kind),
		SchemaVersion: stored.SchemaVersion,
		Payload:       stored.Payload,
		ExpiresAt:     stored.ExpiresAt,
		UpdatedAt:     stored.UpdatedAt,
	}, nil
}

// Upsert overwrites the key for (entity, kind). A record that is already
// expired removes the key instead.
func (r *Repository) Upsert(ctx context.Context, rec weathercache.Record) error {
	key := recordKey(rec.EntityID, rec.Kind)
	ttl := rec.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.client.Del(ctx, key).Err()
	}

	data, err := json.Marshal(storedRecord{
		EntityID:      rec.EntityID,
		DisplayName:   rec.DisplayName,
		Kind:          string(rec.Kind),
		SchemaVersion: rec.SchemaVersion,
		Payload:       rec.Payload,
		ExpiresAt:     rec.ExpiresAt.UTC(),
		UpdatedAt:     rec.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode weather cache record: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set weather cache record: %w", err)
	}
	r.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("stored weather cache record")
	return nil
}

// PurgeExpired is a no-op because Redis expires keys itself.
func (r *Repository) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Close closes the client connection.
func (r *Repository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
