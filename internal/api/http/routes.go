package httpapi

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
	"github.com/i474232898/weather-dashboard/internal/auth"
	"github.com/i474232898/weather-dashboard/internal/cache"
	"github.com/i474232898/weather-dashboard/internal/config"
	"github.com/i474232898/weather-dashboard/internal/favorites"
	"github.com/i474232898/weather-dashboard/internal/metrics"
	"github.com/i474232898/weather-dashboard/internal/users"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

// Limits are the per-IP request budgets.
type Limits struct {
	API     config.RateLimit
	Weather config.RateLimit
	Search  config.RateLimit
	Auth    config.RateLimit
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Weather   *weather.Service
	Favorites *favorites.Service
	Users     *users.Service
	Auth      *auth.Service
	Cache     *cache.Store
	Metrics   *metrics.Collector

	Limits      Limits
	Origins     []string
	Environment string
	Logger      zerolog.Logger
	AccessLog   io.Writer
	Started     time.Time
}

// NewApp builds the Fiber app with global middleware and all routes.
func NewApp(d Deps) *fiber.App {
	if d.Started.IsZero() {
		d.Started = time.Now()
	}
	if d.AccessLog == nil {
		d.AccessLog = os.Stdout
	}
	log := d.Logger.With().Str("component", "http").Logger()

	app := fiber.New(fiber.Config{
		AppName:               "weather-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		BodyLimit:             1 << 20,
		UnescapePath:          true,
		// Params and queries become cache keys; they must not alias fasthttp's buffers.
		Immutable:             true,
		ErrorHandler:          ErrorHandler(log),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: d.AccessLog}))
	app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))
	app.Use(cors.New(corsConfig(d.Origins)))
	if d.Metrics != nil {
		app.Use(observeRequests(d.Metrics))
	}

	RegisterRoutes(app, d)

	app.Use(func(c *fiber.Ctx) error {
		return apperr.NotFound("Route not found - " + c.OriginalURL())
	})
	return app
}

func corsConfig(origins []string) cors.Config {
	if len(origins) == 0 {
		return cors.ConfigDefault
	}
	return cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	h := &handlers{deps: d}

	app.Get("/", h.index)
	app.Get("/health", h.health)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	api := app.Group("/api", rateLimit(d.Limits.API, "Too many requests, please try again later.", false))

	authGroup := api.Group("/auth")
	authGroup.Post("/google",
		rateLimit(d.Limits.Auth, "Too many authentication attempts, please try again later.", true),
		renderErrors,
		h.googleLogin)
	authGroup.Post("/refresh", h.refresh)
	authGroup.Post("/logout", protect(d.Auth), h.logout)
	authGroup.Get("/me", protect(d.Auth), h.me)

	weatherLimit := rateLimit(d.Limits.Weather, "Too many weather requests, please slow down.", false)
	searchLimit := rateLimit(d.Limits.Search, "Too many search requests, please slow down.", false)
	wx := api.Group("/weather", optionalAuth(d.Auth))
	wx.Get("/search", searchLimit, h.search)
	wx.Get("/coords", weatherLimit, h.coords)
	wx.Get("/current/:city", weatherLimit, h.current)
	wx.Get("/forecast/:city", weatherLimit, h.forecast)
	wx.Get("/hourly/:city", weatherLimit, h.hourly)

	profile := api.Group("/users", protect(d.Auth))
	profile.Get("/profile", h.getProfile)
	profile.Put("/profile", h.updateProfile)
	profile.Delete("/profile", h.deleteProfile)
	profile.Put("/preferences", h.updatePreferences)

	favs := api.Group("/favorites", protect(d.Auth))
	favs.Get("/", h.listFavorites)
	favs.Post("/", h.addFavorite)
	favs.Put("/order", h.bulkReorder)
	favs.Patch("/:cityId/order", h.reorder)
	favs.Delete("/:id", h.removeFavorite)
}

type handlers struct {
	deps Deps
}

func (h *handlers) index(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, "Weather Analytics Dashboard API", fiber.Map{
		"version": "1.0.0",
		"endpoints": fiber.Map{
			"auth":      "/api/auth",
			"weather":   "/api/weather",
			"users":     "/api/users",
			"favorites": "/api/favorites",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

func (h *handlers) health(c *fiber.Ctx) error {
	data := fiber.Map{
		"status":      "ok",
		"service":     "weather-dashboard",
		"uptime":      time.Since(h.deps.Started).Seconds(),
		"environment": h.deps.Environment,
	}
	if h.deps.Cache != nil {
		data["cache"] = h.deps.Cache.Stats()
	}
	return success(c, fiber.StatusOK, "Server is healthy", data)
}

// Auth

type googleLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *handlers) googleLogin(c *fiber.Ctx) error {
	var req googleLoginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	session, err := h.deps.Auth.GoogleLogin(c.UserContext(), req.IDToken)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Login successful", session)
}

func (h *handlers) refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	session, err := h.deps.Auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Token refreshed successfully", fiber.Map{
		"accessToken": session.AccessToken,
		"user":        session.User,
	})
}

// logout is stateless: tokens simply expire.
func (h *handlers) logout(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, "Logout successful", nil)
}

func (h *handlers) me(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "User retrieved successfully", fiber.Map{"user": user})
}

// Weather

func (h *handlers) current(c *fiber.Ctx) error {
	data, err := h.deps.Weather.Current(c.UserContext(), c.Params("city"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Current weather retrieved successfully", data)
}

func (h *handlers) forecast(c *fiber.Ctx) error {
	data, err := h.deps.Weather.Forecast(c.UserContext(), c.Params("city"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Weather forecast retrieved successfully", data)
}

func (h *handlers) hourly(c *fiber.Ctx) error {
	data, err := h.deps.Weather.Hourly(c.UserContext(), c.Params("city"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Hourly forecast retrieved successfully", data)
}

func (h *handlers) search(c *fiber.Ctx) error {
	data, err := h.deps.Weather.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Cities found", data)
}

func (h *handlers) coords(c *fiber.Ctx) error {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr != nil || lonErr != nil {
		return apperr.BadRequest("Invalid coordinates")
	}
	data, err := h.deps.Weather.CurrentByCoords(c.UserContext(), lat, lon)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Weather retrieved successfully", data)
}

// Users

func (h *handlers) getProfile(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	fresh, err := h.deps.Users.Get(c.UserContext(), user.ID)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Profile retrieved successfully", fiber.Map{"user": fresh})
}

func (h *handlers) updateProfile(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	var req users.ProfileUpdate
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	updated, err := h.deps.Users.UpdateProfile(c.UserContext(), user.ID, req)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Profile updated successfully", fiber.Map{"user": updated})
}

func (h *handlers) deleteProfile(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	if err := h.deps.Users.Deactivate(c.UserContext(), user.ID); err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Account deactivated successfully", nil)
}

func (h *handlers) updatePreferences(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	var req users.PreferencesUpdate
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	prefs, err := h.deps.Users.UpdatePreferences(c.UserContext(), user.ID, req)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Preferences updated successfully", fiber.Map{"preferences": prefs})
}

// Favorites

type bulkReorderRequest struct {
	Favorites []favorites.OrderItem `json:"favorites" validate:"required,min=1,dive"`
}

type reorderRequest struct {
	Order *int `json:"order" validate:"required,gte=0"`
}

func (h *handlers) listFavorites(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	favs, err := h.deps.Favorites.List(c.UserContext(), user.ID)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Favorites retrieved successfully", fiber.Map{
		"favorites": favs,
		"count":     len(favs),
	})
}

func (h *handlers) addFavorite(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	var req favorites.City
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	fav, err := h.deps.Favorites.Append(c.UserContext(), user.ID, req)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, "City added to favorites", fiber.Map{"favorite": fav})
}

func (h *handlers) removeFavorite(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	if err := h.deps.Favorites.Remove(c.UserContext(), user.ID, c.Params("id")); err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "City removed from favorites", nil)
}

func (h *handlers) bulkReorder(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	var req bulkReorderRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	favs, err := h.deps.Favorites.BulkReorder(c.UserContext(), user.ID, req.Favorites)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Favorites order updated", fiber.Map{"favorites": favs})
}

func (h *handlers) reorder(c *fiber.Ctx) error {
	user, err := mustUser(c)
	if err != nil {
		return err
	}
	var req reorderRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	favs, err := h.deps.Favorites.Reorder(c.UserContext(), user.ID, c.Params("cityId"), *req.Order)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "Favorites order updated", fiber.Map{"favorites": favs})
}
