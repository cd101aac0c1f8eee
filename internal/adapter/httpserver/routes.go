package httpserver

import (
	"log/slog"
	"math"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swansong314/matlab-proxy/internal/authtoken"
	apperrors "github.com/swansong314/matlab-proxy/internal/platform/errors"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(apperrors.Middleware(classifyOverlayError))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'self'; " +
			"script-src 'self' 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"connect-src 'self' ws: wss:; " +
			"frame-ancestors 'self'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	// Health and metrics stay at the root so probes do not depend on the base path.
	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.echo.Group(s.config.BasePath)
	s.registerLandingRoutes(g)
	s.registerOverlayRoutes(g)
	g.GET("/ws/overlay", s.handleOverlayStream)
}

func (s *Server) registerOverlayRoutes(g *echo.Group) {
	burst := max(1, int(math.Ceil(s.config.ControlRateLimit)))
	api := g.Group("/api", newRateLimiter(s.config.ControlRateLimit, burst))

	api.GET("/overlay", s.handleGetOverlay)
	api.POST("/overlay/toggle", s.handleToggleOverlay)
	api.POST("/dialogs", s.handleOpenDialog)
	api.POST("/dialogs/close", s.handleCloseDialog)
	api.POST("/dialogs/confirm", s.handleConfirmDialog)
	api.POST("/dialogs/dismiss", s.handleDismissDialogs)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", redactURI(v.URI),
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// redactURI removes the auth token from a request URI before it is logged.
// Any route can receive the token, so this runs on every request line.
func redactURI(uri string) string {
	_, rewritten, _, err := authtoken.Extract(uri)
	if err != nil {
		path, _, _ := strings.Cut(uri, "?")
		return path
	}
	return rewritten
}
