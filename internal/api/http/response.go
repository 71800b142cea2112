package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-dashboard/internal/apperr"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Errors    []fieldError `json:"errors,omitempty"`
	Timestamp string       `json:"timestamp"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func success(c *fiber.Ctx, status int, msg string, data any) error {
	return c.Status(status).JSON(envelope{
		Success:   true,
		Message:   msg,
		Data:      data,
		Timestamp: timestamp(),
	})
}

// bindJSON parses the body into dst and validates it.
func bindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.Wrap(apperr.ErrBadRequest, "Invalid request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.ErrBadRequest, "Validation failed", err)
	}
	return nil
}

// statusOf maps an error to its HTTP status and client-facing message.
// Classified errors win over a *fiber.Error found deeper in their cause.
func statusOf(err error) (int, string) {
	var ae *apperr.Error
	hasApp := errors.As(err, &ae)
	var fe *fiber.Error
	if !hasApp && errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	status := fiber.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.ErrBadRequest:
		status = fiber.StatusBadRequest
	case apperr.ErrUnauthorized:
		status = fiber.StatusUnauthorized
	case apperr.ErrForbidden:
		status = fiber.StatusForbidden
	case apperr.ErrNotFound:
		status = fiber.StatusNotFound
	case apperr.ErrConflict:
		status = fiber.StatusConflict
	case apperr.ErrUpstreamUnavailable:
		status = fiber.StatusServiceUnavailable
	default:
		return status, "Internal Server Error"
	}

	if hasApp && ae.Message() != "" {
		return status, ae.Message()
	}
	return status, apperr.KindOf(err).Error()
}

// fieldErrors lists validation failures carried anywhere in err's chain.
func fieldErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ErrorHandler renders every error in the error envelope.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, msg := statusOf(err)

		evt := log.Warn()
		if status >= fiber.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Err(err).Int("status", status).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")

		return c.Status(status).JSON(errorEnvelope{
			Success:   false,
			Message:   msg,
			Errors:    fieldErrors(err),
			Timestamp: timestamp(),
		})
	}
}
