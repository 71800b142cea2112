package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/users"
)

const userColumns = `id, google_id, email, name, avatar, temperature_unit, theme, notifications, is_active, last_login, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id string) (users.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetUserByGoogleID(ctx context.Context, googleID string) (users.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = ?`, googleID)
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, u users.User) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userArgs(u)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return userConflict(err)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u users.User) error {
	args := userArgs(u)
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET
		    google_id = ?, email = ?, name = ?, avatar = ?, temperature_unit = ?, theme = ?,
		    notifications = ?, is_active = ?, last_login = ?, created_at = ?, updated_at = ?
		 WHERE id = ?`,
		append(args[1:], u.ID)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return userConflict(err)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res)
}

func userArgs(u users.User) []any {
	var googleID, lastLogin any
	if u.GoogleID != "" {
		googleID = u.GoogleID
	}
	if u.LastLogin != nil {
		lastLogin = toMillis(*u.LastLogin)
	}
	return []any{
		u.ID, googleID, strings.ToLower(u.Email), u.Name, u.Avatar,
		u.Preferences.TemperatureUnit, u.Preferences.Theme, boolToInt(u.Preferences.Notifications),
		boolToInt(u.IsActive), lastLogin, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	}
}

func userConflict(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "google_id") {
		return apperr.Wrap(apperr.ErrConflict, "google account already linked", err)
	}
	return apperr.Wrap(apperr.ErrConflict, "email already registered", err)
}

func scanUser(row rowScanner) (users.User, error) {
	var (
		u                    users.User
		googleID             sql.NullString
		notifications        int
		active               int
		lastLogin            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&u.ID, &googleID, &u.Email, &u.Name, &u.Avatar,
		&u.Preferences.TemperatureUnit, &u.Preferences.Theme, &notifications,
		&active, &lastLogin, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return users.User{}, apperr.ErrNotFound
		}
		return users.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.GoogleID = googleID.String
	u.Preferences.Notifications = notifications != 0
	u.IsActive = active != 0
	if lastLogin.Valid {
		t := fromMillis(lastLogin.Int64)
		u.LastLogin = &t
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
