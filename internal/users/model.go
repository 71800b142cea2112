package users

import (
	"context"
	"time"
)

const (
	UnitCelsius    = "C"
	UnitFahrenheit = "F"

	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

type Preferences struct {
	TemperatureUnit string `json:"temperatureUnit"`
	Theme           string `json:"theme"`
	Notifications   bool   `json:"notifications"`
}

// DefaultPreferences are assigned to every new account.
func DefaultPreferences() Preferences {
	return Preferences{TemperatureUnit: UnitCelsius, Theme: ThemeAuto, Notifications: true}
}

type User struct {
	ID          string      `json:"id"`
	GoogleID    string      `json:"googleId,omitempty"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	Avatar      string      `json:"avatar,omitempty"`
	Preferences Preferences `json:"preferences"`
	IsActive    bool        `json:"isActive"`
	LastLogin   *time.Time  `json:"lastLogin"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	GoogleID string
	Email    string
	Name     string
	Avatar   string
}

// ProfileUpdate carries the profile fields to change; empty fields are left alone.
type ProfileUpdate struct {
	Name   string `json:"name" validate:"omitempty,min=2,max=50"`
	Email  string `json:"email" validate:"omitempty,email,max=254"`
	Avatar string `json:"avatar" validate:"omitempty,url,max=2048"`
}

// PreferencesUpdate is a partial preferences change.
type PreferencesUpdate struct {
	TemperatureUnit string `json:"temperatureUnit" validate:"omitempty,oneof=C F"`
	Theme           string `json:"theme" validate:"omitempty,oneof=light dark auto"`
	Notifications   *bool  `json:"notifications"`
}

// Repository persists accounts. Lookups return apperr.ErrNotFound when nothing
// matches and Create reports duplicate email or google id as apperr.ErrConflict.
type Repository interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (User, error)
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
}
