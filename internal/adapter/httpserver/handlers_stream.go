package httpserver

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/swansong314/matlab-proxy/internal/metrics"
)

// Browsers only send control frames on the stream.
const streamReadLimit = 512

// handleOverlayStream upgrades to a WebSocket, hands the connection to the hub
// for writing and reads until the browser goes away.
func (s *Server) handleOverlayStream(c echo.Context) error {
	ctx := c.Request().Context()

	ip := c.RealIP()
	if ok, reason := s.streams.acquire(ip); !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(reason).Inc()
		slog.WarnContext(ctx, "Overlay stream refused", "remote_ip", ip, "reason", reason)
		return writeRateLimited(c, "too many overlay streams")
	}
	defer s.streams.release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request.
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.DebugContext(ctx, "WebSocket upgrade failed", "error", err)
		return nil
	}

	clientID, err := s.hub.Register(conn)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		slog.WarnContext(ctx, "Overlay stream rejected", "error", err)
		return nil
	}

	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	metrics.WebSocketConnectionsCurrent.Inc()
	start := time.Now()
	defer func() {
		s.hub.Unregister(clientID)
		metrics.WebSocketConnectionsCurrent.Dec()
		metrics.WebSocketConnectionDuration.Observe(time.Since(start).Seconds())
		slog.DebugContext(ctx, "Overlay stream closed", "client_id", clientID.String())
	}()

	conn.SetReadLimit(streamReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
