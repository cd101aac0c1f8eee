package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Overlay Metrics
var (
	// OverlayEvaluationsTotal tracks resolver evaluations by selected content
	OverlayEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_evaluations_total",
			Help: "Total overlay evaluations by selected content kind",
		},
		[]string{"content"},
	)

	// OverlayViewRevision tracks the revision of the most recently published view
	OverlayViewRevision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlay_view_revision",
			Help: "Revision of the most recently published overlay view",
		},
	)

	// OverlayVisible is 1 while the overlay is shown, 0 while hidden
	OverlayVisible = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlay_visible",
			Help: "1 if the overlay is visible, 0 if hidden",
		},
	)

	// SnapshotRejectionsTotal tracks session snapshots rejected as malformed
	SnapshotRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "overlay_snapshot_rejections_total",
			Help: "Total session snapshots rejected because they violated snapshot invariants",
		},
	)

	// DialogTransitionsTotal tracks dialog controller transitions by dialog kind and event
	DialogTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialog_transitions_total",
			Help: "Total dialog transitions by kind and event (open/rejected/close/confirm/dismiss)",
		},
		[]string{"kind", "event"},
	)

	// RedirectsTotal tracks navigation redirects sent to browsers
	RedirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigation_redirects_total",
			Help: "Total navigation redirects issued from a backend load URL",
		},
	)

	// SupervisorCommandTimeouts tracks supervisor commands that were not accepted in time
	SupervisorCommandTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_command_timeouts_total",
			Help: "Total supervisor commands dropped because the loop did not accept them in time",
		},
	)

	// SupervisorPanicsTotal tracks supervisor panic recoveries
	SupervisorPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_panics_total",
			Help: "Total supervisor panic recoveries",
		},
	)
)

// Backend Metrics
var (
	// StatusPollsTotal tracks status polls by result
	StatusPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_polls_total",
			Help: "Total status polls by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// ConnectionErrorActive is 1 while consecutive poll failures exceed the threshold
	ConnectionErrorActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connection_error_active",
			Help: "1 if the backend is considered unreachable, 0 otherwise",
		},
	)

	// BackendRequestsTotal tracks backend HTTP requests by endpoint and result
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Total backend requests by endpoint and result (success/error/circuit_open)",
		},
		[]string{"endpoint", "result"},
	)

	// BackendRequestDuration tracks backend HTTP request latency in seconds
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	// ActionsTotal tracks confirmed backend actions by action and result
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_actions_total",
			Help: "Total confirmed backend actions by action and result",
		},
		[]string{"action", "result"},
	)

	// AuthTokenSubmissionsTotal tracks auth token submissions by result
	AuthTokenSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_submissions_total",
			Help: "Total auth token submissions by result (authenticated/rejected/error)",
		},
		[]string{"result"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// ViewMirrorFailuresTotal tracks failed view mirror writes
	ViewMirrorFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "view_mirror_failures_total",
			Help: "Total overlay view mirror writes that failed",
		},
	)
)

// Broadcaster Metrics
var (
	// BroadcasterConnectedClients tracks number of connected WebSocket clients
	BroadcasterConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_connected_clients_total",
			Help: "Total number of connected overlay WebSocket clients",
		},
	)

	// BroadcasterSlowClientsEvicted tracks number of slow clients evicted
	BroadcasterSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Total number of slow WebSocket clients evicted due to buffer full",
		},
	)

	// BroadcasterPanicsTotal tracks broadcaster panic recoveries
	BroadcasterPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_panics_total",
			Help: "Total broadcaster panic recoveries",
		},
	)

	// BroadcasterCommandChannelDepth tracks current command channel depth
	BroadcasterCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_command_channel_depth",
			Help: "Current command channel depth",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsCurrent tracks current active WebSocket connections
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
	)

	// WebSocketConnectionsTotal tracks total WebSocket connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// WebSocketMessageSendDuration tracks WebSocket message send duration
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// WebSocketConnectionDuration tracks WebSocket connection duration
	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// WebSocketPingFailures tracks WebSocket ping failures
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping failures (client not responding)",
		},
	)

	// WebSocketIdleDisconnects tracks connections closed after the idle timeout
	WebSocketIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_idle_disconnects_total",
			Help: "Total WebSocket connections closed because the client stopped answering pings",
		},
	)

	// WebSocketConnectionsRejected tracks rejected connection attempts by reason
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (global_limit/per_ip_limit/rate_limit)",
		},
		[]string{"reason"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
