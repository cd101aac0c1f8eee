package httpserver

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/swansong314/matlab-proxy/internal/app"
	"github.com/swansong314/matlab-proxy/internal/broadcast"
	"github.com/swansong314/matlab-proxy/internal/platform/correlation"
	apperrors "github.com/swansong314/matlab-proxy/internal/platform/errors"
)

const correlationHeader = "X-Correlation-ID"

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := correlation.FromHeader(c.Request().Header.Get(correlationHeader))
		if !ok {
			id = correlation.NewID()
		}
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlationHeader, id)
		return next(c)
	}
}

// classifyOverlayError maps supervisor and domain sentinels onto HTTP error types.
func classifyOverlayError(err error) *apperrors.Error {
	switch {
	case app.IsInputError(err):
		return apperrors.ValidationError(err.Error(), err)
	case app.IsStateConflict(err):
		return apperrors.ConflictError(err.Error(), err)
	case errors.Is(err, app.ErrSupervisorBusy),
		errors.Is(err, app.ErrSupervisorStopped),
		errors.Is(err, broadcast.ErrTooManyClients),
		errors.Is(err, broadcast.ErrStopped):
		return apperrors.UnavailableError("overlay temporarily unavailable", err)
	default:
		return nil
	}
}
