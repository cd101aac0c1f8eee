package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/platform/config"
	"github.com/swansong314/matlab-proxy/web"
)

type overlayService interface {
	View() domain.View
	ToggleOverlay(ctx context.Context) (domain.View, error)
	OpenDialog(ctx context.Context, kind domain.DialogKind, action domain.Action) (domain.View, error)
	CloseDialog(ctx context.Context) (domain.View, error)
	ConfirmDialog(ctx context.Context) (domain.View, error)
	DismissDialogs(ctx context.Context) (domain.View, error)
	SubmitToken(ctx context.Context, token string) (domain.AuthStatus, error)
}

type streamHub interface {
	Register(conn *websocket.Conn) (uuid.UUID, error)
	Unregister(clientID uuid.UUID)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	overlay overlayService
	hub     streamHub

	templates    *template.Template
	upgrader     websocket.Upgrader
	streams      *streamLimits
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, overlay overlayService, hub streamHub, healthChecks []HealthCheck) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	streams := newStreamLimits(clockwork.NewRealClock(), cfg.MaxStreamsPerIP,
		cfg.StreamConnectRate, int(math.Ceil(cfg.StreamConnectRate)))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		overlay:   overlay,
		hub:       hub,
		templates: templates,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     newCheckOrigin(cfg.AllowedOrigin, cfg.AppEnv == "development"),
		},
		streams:      streams,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "base_path", s.config.BasePath)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(c.Request().Context(), "Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}
