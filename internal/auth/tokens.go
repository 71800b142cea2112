package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access from refresh tokens so one can never stand
// in for the other, even if both secrets were configured identically.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingToken = errors.New("missing authentication token")
)

// Claims are the application token claims.
type Claims struct {
	UserID string    `json:"userId"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenConfig holds the HS256 secrets and lifetimes.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Tokens issues and parses access and refresh tokens.
type Tokens struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokens validates cfg and returns a Tokens. now may be nil.
func NewTokens(cfg TokenConfig, now func() time.Time) (*Tokens, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Tokens{cfg: cfg, now: now}, nil
}

func (t *Tokens) IssueAccess(userID string) (string, error) {
	return t.issue(userID, TokenAccess)
}

func (t *Tokens) IssueRefresh(userID string) (string, error) {
	return t.issue(userID, TokenRefresh)
}

// ParseAccess returns the claims of a valid access token.
func (t *Tokens) ParseAccess(token string) (*Claims, error) {
	return t.parse(token, TokenAccess)
}

// ParseRefresh returns the claims of a valid refresh token.
func (t *Tokens) ParseRefresh(token string) (*Claims, error) {
	return t.parse(token, TokenRefresh)
}

func (t *Tokens) secret(typ TokenType) ([]byte, time.Duration) {
	if typ == TokenRefresh {
		return []byte(t.cfg.RefreshSecret), t.cfg.RefreshTTL
	}
	return []byte(t.cfg.AccessSecret), t.cfg.AccessTTL
}

func (t *Tokens) issue(userID string, typ TokenType) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	key, ttl := t.secret(typ)
	now := t.now()
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (t *Tokens) parse(token string, typ TokenType) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrMissingToken
	}
	key, _ := t.secret(typ)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Type != typ || claims.UserID == "" {
		return nil, fmt.Errorf("%w: wrong token type or missing user", ErrInvalidToken)
	}
	return claims, nil
}
