package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/auth"
	"github.com/i474232898/weather-dashboard/internal/config"
	"github.com/i474232898/weather-dashboard/internal/metrics"
	"github.com/i474232898/weather-dashboard/internal/users"
)

const userLocal = "user"

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// protect rejects requests without a valid access token of an active user.
func protect(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return apperr.New(apperr.ErrUnauthorized, "Not authorized to access this route. Please login.")
		}
		user, err := svc.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}
		c.Locals(userLocal, user)
		return c.Next()
	}
}

// optionalAuth attaches the user when a valid token is present and otherwise
// lets the request through anonymously.
func optionalAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := bearerToken(c); token != "" {
			if user, err := svc.Authenticate(c.UserContext(), token); err == nil {
				c.Locals(userLocal, user)
			}
		}
		return c.Next()
	}
}

// currentUser returns the user set by protect or optionalAuth.
func currentUser(c *fiber.Ctx) (users.User, bool) {
	u, ok := c.Locals(userLocal).(users.User)
	return u, ok
}

func mustUser(c *fiber.Ctx) (users.User, error) {
	u, ok := currentUser(c)
	if !ok {
		return users.User{}, apperr.New(apperr.ErrUnauthorized, "Not authorized to access this route. Please login.")
	}
	return u, nil
}

// rateLimit limits requests per client IP.
func rateLimit(limit config.RateLimit, msg string, skipSuccessful bool) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit.Max,
		Expiration: limit.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, msg)
		},
		SkipSuccessfulRequests: skipSuccessful,
	})
}

// renderErrors writes handler errors into the response right away so
// middleware further out, like a limiter that skips successful requests,
// sees the final status code.
func renderErrors(c *fiber.Ctx) error {
	if err := c.Next(); err != nil {
		return c.App().Config().ErrorHandler(c, err)
	}
	return nil
}

// observeRequests records request count and latency.
func observeRequests(m *metrics.Collector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status, _ = statusOf(err)
		}
		m.ObserveHTTP(c.Method(), status, time.Since(start))
		return err
	}
}
