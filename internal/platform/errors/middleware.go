package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPErrorsTotal tracks HTTP errors by type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP errors by error type",
		},
		[]string{"type"},
	)
)

// Middleware returns an Echo middleware that renders handler errors as JSON.
// Classifiers translate package sentinel errors before the internal fallback.
func Middleware(classifiers ...Classifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo errors (binder, router) keep their status code unless a
			// structured error wraps them.
			var structuredErr *Error
			var httpErr *echo.HTTPError
			if !errors.As(err, &structuredErr) && errors.As(err, &httpErr) {
				HTTPErrorsTotal.WithLabelValues(string(WrapHTTPError(httpErr).Type)).Inc()
				return err
			}

			return HandleError(c, err, classifiers...)
		}
	}
}

// HandleError writes err as a structured JSON response.
func HandleError(c echo.Context, err error, classifiers ...Classifier) error {
	if err == nil {
		return nil
	}

	structuredErr := AsStructuredError(err, classifiers...)
	HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
	logError(c, structuredErr)

	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	switch err.Type {
	case TypeValidation, TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeConflict:
		slog.WarnContext(ctx, "Request conflicts with overlay state", attrs...)
	case TypeRateLimited:
		slog.WarnContext(ctx, "Request throttled", attrs...)
	case TypeExternal, TypeUnavailable:
		slog.ErrorContext(ctx, "Backend unavailable", attrs...)
	default:
		slog.ErrorContext(ctx, "Internal error", attrs...)
	}
}

// WrapHTTPError converts Echo's HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := "internal server error"
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = TypeValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		errType = TypeNotFound
	case http.StatusConflict:
		errType = TypeConflict
	case http.StatusTooManyRequests:
		errType = TypeRateLimited
	case http.StatusServiceUnavailable:
		errType = TypeUnavailable
	case http.StatusBadGateway:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   httpErr.Internal,
		Context: make(map[string]any),
	}
}
