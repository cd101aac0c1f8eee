package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/swansong314/matlab-proxy/internal/authtoken"
	apperrors "github.com/swansong314/matlab-proxy/internal/platform/errors"
)

const matlabDocument = "/index-jsd-cr.html"

type landingPage struct {
	BasePath string
	AppPath  string
}

func (s *Server) registerLandingRoutes(g *echo.Group) {
	g.GET("/", s.handleRoot)
	g.GET("/index.html", s.handleLanding)
}

func (s *Server) handleRoot(c echo.Context) error {
	target := s.config.BasePath + "/index.html"
	if q := c.QueryString(); q != "" {
		target += "?" + q
	}
	if err := c.Redirect(http.StatusFound, target); err != nil {
		return fmt.Errorf("failed to redirect to landing page: %w", err)
	}
	return nil
}

// handleLanding consumes an mwi_auth_token query parameter, then sends the
// browser to the same URL without it. Without a token it serves the host page.
func (s *Server) handleLanding(c echo.Context) error {
	token, rewritten, found, err := authtoken.Extract(c.Request().URL.RequestURI())
	if err != nil {
		return apperrors.ValidationError("malformed auth token parameter", err)
	}

	if found {
		ctx := c.Request().Context()
		status, err := s.overlay.SubmitToken(ctx, token)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "Auth token submission failed", "error", err)
		case !status.Authenticated:
			slog.InfoContext(ctx, "Auth token not accepted by backend")
		}
		if err := c.Redirect(http.StatusFound, rewritten); err != nil {
			return fmt.Errorf("failed to redirect after token landing: %w", err)
		}
		return nil
	}

	return s.renderTemplate(c, "index.html", landingPage{
		BasePath: s.config.BasePath,
		AppPath:  s.config.BasePath + matlabDocument,
	})
}
