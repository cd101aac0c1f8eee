package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/swansong314/matlab-proxy/internal/adapter/httpserver"
	"github.com/swansong314/matlab-proxy/internal/adapter/mwi"
	"github.com/swansong314/matlab-proxy/internal/adapter/redis"
	"github.com/swansong314/matlab-proxy/internal/app"
	"github.com/swansong314/matlab-proxy/internal/broadcast"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/metrics"
	"github.com/swansong314/matlab-proxy/internal/platform/config"
	"github.com/swansong314/matlab-proxy/internal/platform/logging"
	"github.com/swansong314/matlab-proxy/internal/platform/version"
	"github.com/swansong314/matlab-proxy/internal/session"
)

const shutdownTimeout = 10 * time.Second

type mirrorResult struct {
	client *goredis.Client
	mirror *redis.Mirror
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBackend(cfg *config.Config) *mwi.Client {
	client, err := mwi.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	if err != nil {
		slog.Error("Failed to create backend client", "error", err)
		os.Exit(1)
	}
	return client
}

// setupMirror connects to Redis when REDIS_URL is set. The mirror is optional,
// so a failed connection is logged and the overlay runs without it.
func setupMirror(ctx context.Context, cfg *config.Config) *mirrorResult {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, overlay view mirror disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis, overlay view mirror disabled", "error", err)
		return nil
	}
	return &mirrorResult{client: client, mirror: redis.NewMirror(client)}
}

// lastMirroredView reads the view an earlier process left in Redis so the
// revision sequence seen by browsers keeps increasing across restarts.
func lastMirroredView(ctx context.Context, mirror *mirrorResult) *domain.View {
	if mirror == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	view, err := mirror.mirror.LatestView(ctx)
	switch {
	case errors.Is(err, redis.ErrNoView):
		return nil
	case err != nil:
		slog.Warn("Failed to read mirrored overlay view, starting fresh", "error", err)
		return nil
	}
	return &view
}

func healthChecks(backend *mwi.Client, mirror *mirrorResult) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{
			Name: "backend",
			Check: func(ctx context.Context) error {
				if backend.State() == gobreaker.StateOpen {
					return errors.New("backend circuit breaker open")
				}
				// Joins the poller's request when one is in flight.
				if _, err := backend.FetchStatus(ctx); err != nil {
					return fmt.Errorf("backend status: %w", err)
				}
				return nil
			},
		},
	}
	if mirror != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				_, err := mirror.mirror.LatestView(ctx)
				if err != nil && !errors.Is(err, redis.ErrNoView) {
					return fmt.Errorf("read mirrored view: %w", err)
				}
				return nil
			},
		})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, stopPolling context.CancelFunc, supervisor *app.Supervisor, broadcaster *broadcast.Broadcaster, mirror *mirrorResult) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopPolling()
		supervisor.Stop()
		broadcaster.Stop()

		if mirror != nil {
			mirror.mirror.Close()
			if err := mirror.client.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "backend", cfg.BackendURL, "commit", info.Commit)

	backend := setupBackend(cfg)

	store := session.NewStore(session.Settings{
		PollInterval:             cfg.StatusPollInterval,
		FastPollInterval:         cfg.StatusPollFastInterval,
		ConnectionErrorThreshold: cfg.ConnectionErrorThreshold,
	})

	broadcaster := broadcast.NewBroadcaster(clock, cfg.MaxWebSocketConnections)

	mirror := setupMirror(context.Background(), cfg)
	publishers := app.Publishers{broadcaster}
	if mirror != nil {
		publishers = append(publishers, mirror.mirror)
	}

	supervisor := app.NewSupervisor(app.SupervisorConfig{
		Store:      store,
		Actions:    backend,
		Auth:       backend,
		Publisher:  publishers,
		Redirector: broadcaster,
		Clock:      clock,
		Classify:   mwi.Classify,
		Resume:     lastMirroredView(context.Background(), mirror),
	})

	poller := app.NewPoller(backend, backend, supervisor, clock, mwi.Classify)
	supervisor.OnActionCompleted(poller.Refresh)

	pollCtx, stopPolling := context.WithCancel(context.Background())
	go poller.Run(pollCtx)

	srv, err := httpserver.NewServer(cfg, supervisor, broadcaster, healthChecks(backend, mirror))
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, stopPolling, supervisor, broadcaster, mirror)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
