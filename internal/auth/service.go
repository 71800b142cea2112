package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/users"
)

// IdentityVerifier turns an external ID token into a Google identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (users.GoogleIdentity, error)
}

// Session is the result of a successful login.
type Session struct {
	User         users.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
}

type Service struct {
	verifier IdentityVerifier
	tokens   *Tokens
	users    *users.Service
	log      zerolog.Logger
}

func NewService(verifier IdentityVerifier, tokens *Tokens, accounts *users.Service, log zerolog.Logger) *Service {
	return &Service{
		verifier: verifier,
		tokens:   tokens,
		users:    accounts,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// GoogleLogin verifies idToken, finds or creates the user and issues both tokens.
func (s *Service) GoogleLogin(ctx context.Context, idToken string) (Session, error) {
	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.FindOrCreateByGoogle(ctx, identity)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, apperr.New(apperr.ErrForbidden, "User account is inactive")
	}

	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "failed to issue token", err)
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "failed to issue token", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("user logged in")
	return Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrUnauthorized, "Invalid or expired refresh token", err)
	}
	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Session{}, apperr.New(apperr.ErrUnauthorized, "User not found or inactive")
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, apperr.New(apperr.ErrUnauthorized, "User not found or inactive")
	}

	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "failed to issue token", err)
	}
	return Session{User: user, AccessToken: access}, nil
}

// Authenticate resolves an access token to its active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (users.User, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, ErrMissingToken) {
			return users.User{}, apperr.New(apperr.ErrUnauthorized, "Not authorized to access this route. Please login.")
		}
		return users.User{}, apperr.Wrap(apperr.ErrUnauthorized, "Invalid or expired token", err)
	}
	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return users.User{}, apperr.New(apperr.ErrUnauthorized, "User not found")
		}
		return users.User{}, err
	}
	if !user.IsActive {
		return users.User{}, apperr.New(apperr.ErrForbidden, "User account is inactive")
	}
	return user, nil
}
