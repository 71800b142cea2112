// Package users manages accounts created through Google sign-in.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
)

var validate = validator.New()

type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log.With().Str("component", "users").Logger() }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindOrCreateByGoogle returns the account linked to id.GoogleID, creating it
// on first sign-in. Returning users get LastLogin refreshed.
func (s *Service) FindOrCreateByGoogle(ctx context.Context, id GoogleIdentity) (User, error) {
	id.GoogleID = strings.TrimSpace(id.GoogleID)
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	if id.GoogleID == "" {
		return User{}, apperr.BadRequest("google id is required")
	}

	now := s.now()
	u, err := s.repo.GetUserByGoogleID(ctx, id.GoogleID)
	switch {
	case err == nil:
		u.LastLogin = &now
		u.UpdatedAt = now
		if err := s.repo.UpdateUser(ctx, u); err != nil {
			return User{}, s.classify(err, "failed to update last login")
		}
		return u, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return User{}, s.classify(err, "failed to look up user")
	}

	if id.Email == "" {
		return User{}, apperr.BadRequest("google account has no email")
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name, _, _ = strings.Cut(id.Email, "@")
	}

	u = User{
		ID:          s.newID(),
		GoogleID:    id.GoogleID,
		Email:       id.Email,
		Name:        name,
		Avatar:      strings.TrimSpace(id.Avatar),
		Preferences: DefaultPreferences(),
		IsActive:    true,
		LastLogin:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return User{}, s.classify(err, "failed to create user")
	}
	s.log.Info().Str("user", u.ID).Str("email", u.Email).Msg("new user created via google")
	return u, nil
}

func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, apperr.NotFound("User not found")
		}
		return User{}, s.classify(err, "failed to get profile")
	}
	return u, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (User, error) {
	upd.Name = strings.TrimSpace(upd.Name)
	upd.Email = strings.ToLower(strings.TrimSpace(upd.Email))
	upd.Avatar = strings.TrimSpace(upd.Avatar)
	if err := validate.Struct(upd); err != nil {
		return User{}, apperr.Wrap(apperr.ErrBadRequest, "invalid profile", err)
	}

	u, err := s.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if upd.Name != "" {
		u.Name = upd.Name
	}
	if upd.Email != "" {
		u.Email = upd.Email
	}
	if upd.Avatar != "" {
		u.Avatar = upd.Avatar
	}
	u.UpdatedAt = s.now()

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return User{}, s.classify(err, "failed to update profile")
	}
	return u, nil
}

func (s *Service) UpdatePreferences(ctx context.Context, userID string, upd PreferencesUpdate) (Preferences, error) {
	if err := validate.Struct(upd); err != nil {
		return Preferences{}, apperr.Wrap(apperr.ErrBadRequest, "invalid preferences", err)
	}

	u, err := s.Get(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	if upd.TemperatureUnit != "" {
		u.Preferences.TemperatureUnit = upd.TemperatureUnit
	}
	if upd.Theme != "" {
		u.Preferences.Theme = upd.Theme
	}
	if upd.Notifications != nil {
		u.Preferences.Notifications = *upd.Notifications
	}
	u.UpdatedAt = s.now()

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return Preferences{}, s.classify(err, "failed to update preferences")
	}
	return u.Preferences, nil
}

// Deactivate soft-deletes the account. The row is kept.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.IsActive = false
	u.UpdatedAt = s.now()
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return s.classify(err, "failed to delete account")
	}
	s.log.Info().Str("user", u.ID).Msg("account deactivated")
	return nil
}

func (s *Service) classify(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if kind := apperr.KindOf(err); kind != apperr.ErrInternal {
		return apperr.Wrap(kind, msg, err)
	}
	s.log.Error().Err(err).Msg(msg)
	return apperr.Wrap(apperr.ErrInternal, msg, err)
}
