package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/swansong314/matlab-proxy/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return writeRateLimited(c, "rate limit exceeded")
		},
	})
}

func writeRateLimited(c echo.Context, message string) error {
	apperrors.HTTPErrorsTotal.WithLabelValues(string(apperrors.TypeRateLimited)).Inc()
	if err := c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
		Error: message,
		Type:  apperrors.TypeRateLimited,
	}); err != nil {
		return fmt.Errorf("failed to write rate limit response: %w", err)
	}
	return nil
}
