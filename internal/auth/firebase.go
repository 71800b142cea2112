package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/cache"
	"github.com/i474232898/weather-dashboard/internal/users"
)

const (
	GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	issuerPrefix   = "https://securetoken.google.com/"

	defaultCertsTTL = time.Hour
)

var certsKey = cache.NewKey(cache.DomainAuth, cache.OpCerts, "firebase")

// FirebaseClaims are the ID-token claims the login flow reads.
type FirebaseClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// FirebaseConfig configures a FirebaseVerifier. Only ProjectID is required.
type FirebaseConfig struct {
	ProjectID string
	CertsURL  string
	Client    *http.Client
	Cache     *cache.Store
	Now       func() time.Time
	Logger    zerolog.Logger
}

// FirebaseVerifier checks Google-issued Firebase ID tokens against the
// rotating signing certificates.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	cache     *cache.Store
	now       func() time.Time
	log       zerolog.Logger
}

func NewFirebaseVerifier(cfg FirebaseConfig) *FirebaseVerifier {
	if cfg.CertsURL == "" {
		cfg.CertsURL = GoogleCertsURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FirebaseVerifier{
		projectID: cfg.ProjectID,
		certsURL:  cfg.CertsURL,
		client:    cfg.Client,
		cache:     cfg.Cache,
		now:       cfg.Now,
		log:       cfg.Logger.With().Str("component", "firebase").Logger(),
	}
}

// Verify validates idToken and returns the identity it asserts.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (users.GoogleIdentity, error) {
	if v.projectID == "" {
		return users.GoogleIdentity{}, apperr.New(apperr.ErrUpstreamUnavailable, "Google authentication is not configured")
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return users.GoogleIdentity{}, apperr.New(apperr.ErrUnauthorized, "ID token is required")
	}

	var keyErr error
	claims := &FirebaseClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		key, err := v.publicKey(ctx, kid)
		if err != nil {
			keyErr = err
		}
		return key, err
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuer(issuerPrefix+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if keyErr != nil && apperr.KindOf(keyErr) == apperr.ErrUpstreamUnavailable {
			return users.GoogleIdentity{}, keyErr
		}
		v.log.Debug().Err(err).Msg("id token rejected")
		return users.GoogleIdentity{}, apperr.Wrap(apperr.ErrUnauthorized, "Google authentication failed", err)
	}
	if claims.Subject == "" {
		return users.GoogleIdentity{}, apperr.New(apperr.ErrUnauthorized, "Google authentication failed")
	}

	return users.GoogleIdentity{
		GoogleID: claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Avatar:   claims.Picture,
	}, nil
}

// publicKey returns the key for kid. An unknown kid refetches the
// certificates once, since Google rotates them ahead of expiry.
func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, err := v.keys(ctx, false)
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	keys, err = v.keys(ctx, true)
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("no signing certificate for kid %q", kid)
}

func (v *FirebaseVerifier) keys(ctx context.Context, refresh bool) (map[string]*rsa.PublicKey, error) {
	if !refresh {
		if raw, ok := v.cache.Get(certsKey); ok {
			if keys, ok := raw.(map[string]*rsa.PublicKey); ok {
				return keys, nil
			}
		}
	}

	keys, ttl, err := v.fetchCerts(ctx)
	if err != nil {
		v.log.Error().Err(err).Msg("failed to fetch signing certificates")
		return nil, apperr.Wrap(apperr.ErrUpstreamUnavailable, "Google authentication is unavailable", err)
	}
	v.cache.Set(certsKey, keys, ttl)
	return keys, nil
}

func (v *FirebaseVerifier) fetchCerts(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certificates endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}

	var pems map[string]string
	if err := json.Unmarshal(body, &pems); err != nil {
		return nil, 0, fmt.Errorf("decode certificates: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, 0, fmt.Errorf("parse certificate %q: %w", kid, err)
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return nil, 0, errors.New("certificates endpoint returned no keys")
	}
	return keys, maxAge(resp.Header.Get("Cache-Control")), nil
}

// maxAge reads max-age from a Cache-Control header, defaulting to an hour.
func maxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultCertsTTL
}
