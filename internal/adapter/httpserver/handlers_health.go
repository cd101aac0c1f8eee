package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/swansong314/matlab-proxy/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const readinessProbeTimeout = 5 * time.Second

// HealthCheck is a named dependency probe run by /health/ready.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type readinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

type livenessResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	Version     string  `json:"version"`
	Revision    uint64  `json:"overlay_revision"`
	OpenStreams int     `json:"open_streams"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleLiveness never touches the backend or Redis. It reads the overlay's
// in-memory state only.
func (s *Server) handleLiveness(c echo.Context) error {
	response := livenessResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startTime).Seconds(),
		Version:     version.Get().Version,
		Revision:    s.overlay.View().Revision,
		OpenStreams: s.streams.totalStreams(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness runs every check concurrently under one deadline and
// reports each result. Any failure makes the instance unready.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	results := make([]checkResult, len(s.healthChecks))
	var g errgroup.Group
	for i, hc := range s.healthChecks {
		i, hc := i, hc
		g.Go(func() error {
			start := time.Now()
			err := hc.Check(ctx)
			results[i] = checkResult{Status: "ok", DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "failed"
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	response := readinessResponse{Status: "ready", Checks: make(map[string]checkResult, len(results))}
	code := http.StatusOK
	for i, hc := range s.healthChecks {
		response.Checks[hc.Name] = results[i]
		if results[i].Status != "ok" {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	if err := c.JSON(code, response); err != nil {
		return fmt.Errorf("failed to write readiness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
