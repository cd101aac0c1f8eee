// Package mwi is the HTTP client for the MATLAB proxy backend.
package mwi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/metrics"
	"github.com/swansong314/matlab-proxy/internal/platform/retry"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AuthTokenHeader carries the auth token on the authenticate request.
const AuthTokenHeader = "mwi_auth_token"

const (
	endpointEnvConfig    = "get_env_config"
	endpointStatus       = "get_status"
	endpointAuthenticate = "authenticate"
	breakerName          = "mwi"
	maxErrorBody         = 4 << 10
)

type route struct {
	method string
	path   string
}

var actionRoutes = map[domain.Action]route{
	domain.ActionStartMatlab:         {http.MethodPut, "start_matlab"},
	domain.ActionStopMatlab:          {http.MethodDelete, "stop_matlab"},
	domain.ActionUnsetLicensing:      {http.MethodDelete, "set_licensing_info"},
	domain.ActionShutdownIntegration: {http.MethodDelete, "shutdown_integration"},
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.Code, e.Body)
}

// Client talks to the backend through a circuit breaker. Concurrent status
// fetches share one request.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
}

var _ domain.Backend = (*Client)(nil)

// NewClient creates a backend client for baseURL (scheme, host and optional base path).
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}

	c := &Client{
		base:    base,
		http:    &http.Client{},
		timeout: timeout,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	return c, nil
}

// State reports the breaker state for readiness checks.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) FetchEnvConfig(ctx context.Context) (domain.EnvConfig, error) {
	var cfg domain.EnvConfig
	if err := c.doJSON(ctx, http.MethodGet, endpointEnvConfig, nil, &cfg); err != nil {
		return domain.EnvConfig{}, err
	}
	return cfg, nil
}

// FetchStatus joins an in-flight status request when there is one. The
// shared request is detached from the caller's cancellation and bounded by
// the client timeout, so a caller that gives up never fails the others.
func (c *Client) FetchStatus(ctx context.Context) (domain.ServerStatus, error) {
	ch := c.group.DoChan(endpointStatus, func() (any, error) {
		var status domain.ServerStatus
		if err := c.doJSON(context.WithoutCancel(ctx), http.MethodGet, endpointStatus, nil, &status); err != nil {
			return nil, err
		}
		return status, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.ServerStatus{}, res.Err
		}
		return res.Val.(domain.ServerStatus), nil
	case <-ctx.Done():
		return domain.ServerStatus{}, fmt.Errorf("%s: %w", endpointStatus, ctx.Err())
	}
}

func (c *Client) SubmitToken(ctx context.Context, token string) (domain.AuthStatus, error) {
	if token == "" {
		return domain.AuthStatus{}, domain.ErrNoToken
	}
	var status domain.AuthStatus
	header := http.Header{AuthTokenHeader: []string{token}}
	if err := c.doJSON(ctx, http.MethodPost, endpointAuthenticate, header, &status); err != nil {
		return domain.AuthStatus{}, err
	}
	return status, nil
}

func (c *Client) Run(ctx context.Context, action domain.Action) error {
	r, ok := actionRoutes[action]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
	}
	return c.doJSON(ctx, r.method, r.path, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, header http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, method, endpoint, header, out)
	})
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "success").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", endpoint, err)
	default:
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(endpoint).String(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	for k, vs := range header {
		// mwi_auth_token is sent as-is, not canonicalized.
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Classify decides whether a backend error is worth retrying.
func Classify(err error) retry.Action {
	var se *StatusError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrNoToken), errors.Is(err, domain.ErrUnknownAction):
		return retry.Stop
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return retry.After
	case errors.As(err, &se):
		switch {
		case se.Code == http.StatusTooManyRequests || se.Code == http.StatusServiceUnavailable:
			return retry.After
		case se.Code >= 500:
			return retry.Retry
		default:
			return retry.Stop
		}
	default:
		return retry.Retry
	}
}

// isBreakerSuccess keeps client errors (4xx) from tripping the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code < 500
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
