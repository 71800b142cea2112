package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/favorites"
)

const favoriteColumns = `id, user_id, city_id, city_name, country, lat, lon, sort_order, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// List returns the user's favorites sorted by order.
func (s *Store) List(ctx context.Context, userID string) ([]favorites.Favorite, error) {
	return listFavorites(ctx, s.sqlDB, userID)
}

// Atomically runs fn inside one IMMEDIATE transaction and commits only if fn
// succeeds.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx favorites.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin favorites transaction: %w", err)
	}
	if err := fn(ctx, favoritesTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit favorites transaction: %w", err)
	}
	return nil
}

type favoritesTx struct {
	q queryer
}

func (t favoritesTx) List(ctx context.Context, userID string) ([]favorites.Favorite, error) {
	return listFavorites(ctx, t.q, userID)
}

func (t favoritesTx) GetByID(ctx context.Context, userID, id string) (favorites.Favorite, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorites WHERE user_id = ? AND id = ?`, userID, id)
	return scanFavorite(row)
}

func (t favoritesTx) GetByCity(ctx context.Context, userID, cityID string) (favorites.Favorite, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorites WHERE user_id = ? AND city_id = ?`, userID, cityID)
	return scanFavorite(row)
}

func (t favoritesTx) Insert(ctx context.Context, f favorites.Favorite) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO favorites (`+favoriteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.CityID, f.CityName, f.Country,
		f.Coordinates.Lat, f.Coordinates.Lon, f.Order,
		toMillis(f.CreatedAt), toMillis(f.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("City already in favorites")
		}
		return fmt.Errorf("insert favorite: %w", err)
	}
	return nil
}

func (t favoritesTx) Delete(ctx context.Context, userID, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return requireAffected(res)
}

func (t favoritesTx) ShiftOrders(ctx context.Context, userID string, from, to, delta int, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE favorites SET sort_order = sort_order + ?, updated_at = ?
		 WHERE user_id = ? AND sort_order BETWEEN ? AND ?`,
		delta, toMillis(at), userID, from, to,
	)
	if err != nil {
		return fmt.Errorf("shift favorite orders: %w", err)
	}
	return nil
}

func (t favoritesTx) SetOrder(ctx context.Context, userID, id string, order int, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE favorites SET sort_order = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		order, toMillis(at), userID, id,
	)
	if err != nil {
		return fmt.Errorf("set favorite order: %w", err)
	}
	return requireAffected(res)
}

func listFavorites(ctx context.Context, q queryer, userID string) ([]favorites.Favorite, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorites WHERE user_id = ? ORDER BY sort_order, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	out := []favorites.Favorite{}
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFavorite(row rowScanner) (favorites.Favorite, error) {
	var (
		f                    favorites.Favorite
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&f.ID, &f.UserID, &f.CityID, &f.CityName, &f.Country,
		&f.Coordinates.Lat, &f.Coordinates.Lon, &f.Order,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return favorites.Favorite{}, apperr.ErrNotFound
		}
		return favorites.Favorite{}, fmt.Errorf("scan favorite: %w", err)
	}
	f.CreatedAt = fromMillis(createdAt)
	f.UpdatedAt = fromMillis(updatedAt)
	return f, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
