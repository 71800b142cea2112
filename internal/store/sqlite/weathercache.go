package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/weathercache"
)

// FindLive loads the record for (entityID, kind) when it expires after now.
func (s *Store) FindLive(ctx context.Context, entityID string, kind weathercache.Kind, now time.Time) (weathercache.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT entity_id, kind, display_name, schema_version, payload_json, expires_at, updated_at
		 FROM weather_cache
		 WHERE entity_id = ? AND kind = ? AND expires_at > ?`,
		entityID, string(kind), toMillis(now),
	)

	var (
		rec                  weathercache.Record
		kindValue            string
		payload              []byte
		expiresAt, updatedAt int64
	)
	if err := row.Scan(&rec.EntityID, &kindValue, &rec.DisplayName, &rec.SchemaVersion, &payload, &expiresAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return weathercache.Record{}, apperr.ErrNotFound
		}
		return weathercache.Record{}, fmt.Errorf("get weather cache record: %w", err)
	}
	rec.Kind = weathercache.Kind(kindValue)
	rec.Payload = payload
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// Upsert writes rec, replacing any record with the same (entity, kind).
func (s *Store) Upsert(ctx context.Context, rec weathercache.Record) error {
	if len(rec.Payload) == 0 {
		return fmt.Errorf("weather cache payload is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO weather_cache (
		    entity_id, kind, display_name, schema_version, payload_json, expires_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id, kind) DO UPDATE SET
		    display_name = excluded.display_name,
		    schema_version = excluded.schema_version,
		    payload_json = excluded.payload_json,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at`,
		rec.EntityID, string(rec.Kind), rec.DisplayName, rec.SchemaVersion, []byte(rec.Payload),
		toMillis(rec.ExpiresAt), toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put weather cache record: %w", err)
	}
	return nil
}

// PurgeExpired deletes records whose expiry is at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM weather_cache WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge weather cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge weather cache: %w", err)
	}
	return n, nil
}
