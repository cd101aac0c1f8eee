package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/swansong314/matlab-proxy/internal/metrics"
)

const (
	breakerName = "redis"
	cacheTTL    = 5 * time.Minute
)

// ErrCircuitOpen is returned for commands rejected while Redis is considered down.
var ErrCircuitOpen = errors.New("redis circuit breaker open")

// CircuitBreakerHook protects every Redis operation with a circuit breaker.
// While open, GET commands are answered from the last value read or written
// through this client, if it is fresh enough.
type CircuitBreakerHook struct {
	cb    *gobreaker.CircuitBreaker
	clock clockwork.Clock
	cache *cacheStore
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

type cacheStore struct {
	mu     sync.RWMutex
	values map[string]cachedValue
}

type cachedValue struct {
	data      string
	timestamp time.Time
}

// NewCircuitBreakerHook trips after at least 5 requests with a 60% failure
// rate inside a 10s window, and probes again after 30s.
func NewCircuitBreakerHook() *CircuitBreakerHook {
	return newCircuitBreakerHook(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}, clockwork.NewRealClock())
}

func newCircuitBreakerHook(settings gobreaker.Settings, clock clockwork.Clock) *CircuitBreakerHook {
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
		metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
		metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
	}
	return &CircuitBreakerHook{
		cb:    gobreaker.NewCircuitBreaker(settings),
		clock: clock,
		cache: &cacheStore{values: make(map[string]cachedValue)},
	}
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

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := h.cb.Execute(func() (any, error) {
			return next(ctx, network, addr)
		})
		if err != nil {
			if isOpen(err) {
				return nil, fmt.Errorf("%w: dial: %w", ErrCircuitOpen, err)
			}
			return nil, fmt.Errorf("circuit breaker dial failed: %w", err)
		}
		return conn.(net.Conn), nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		_, err := h.cb.Execute(func() (any, error) {
			err := next(ctx, cmd)
			if errors.Is(err, goredis.Nil) {
				return nil, nil
			}
			return nil, err
		})
		if isOpen(err) {
			return h.handleFallback(cmd)
		}
		if err != nil {
			return fmt.Errorf("circuit breaker process failed: %w", err)
		}

		h.cacheResult(cmd)
		// Preserve redis.Nil for callers that check it.
		return cmd.Err()
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		_, err := h.cb.Execute(func() (any, error) {
			return nil, next(ctx, cmds)
		})
		if isOpen(err) {
			return fmt.Errorf("%w: pipeline", ErrCircuitOpen)
		}
		if err != nil {
			return fmt.Errorf("circuit breaker pipeline failed: %w", err)
		}
		for _, cmd := range cmds {
			h.cacheResult(cmd)
		}
		return nil
	}
}

// handleFallback serves GET from cache while the breaker is open. Everything
// else fails fast.
func (h *CircuitBreakerHook) handleFallback(cmd goredis.Cmder) error {
	if cmd.Name() == "get" {
		if value, ok := h.getFromCache(cmd); ok {
			if c, ok := cmd.(*goredis.StringCmd); ok {
				slog.Debug("Circuit breaker open, serving from cache", "command", cmd.Name())
				c.SetVal(value)
				return nil
			}
		}
		return fmt.Errorf("%w and no cached value", ErrCircuitOpen)
	}

	slog.Warn("Circuit breaker open, rejecting command", "command", cmd.Name())
	return ErrCircuitOpen
}

// cacheResult remembers values read with GET or written with SET.
func (h *CircuitBreakerHook) cacheResult(cmd goredis.Cmder) {
	args := cmd.Args()
	if len(args) < 2 || cmd.Err() != nil {
		return
	}
	key := fmt.Sprintf("%v", args[1])

	var value string
	switch cmd.Name() {
	case "get":
		c, ok := cmd.(*goredis.StringCmd)
		if !ok {
			return
		}
		value = c.Val()
	case "set":
		if len(args) < 3 {
			return
		}
		switch v := args[2].(type) {
		case string:
			value = v
		case []byte:
			value = string(v)
		default:
			return
		}
	default:
		return
	}

	if value == "" {
		return
	}
	h.cache.mu.Lock()
	h.cache.values[key] = cachedValue{data: value, timestamp: h.clock.Now()}
	h.cache.mu.Unlock()
}

func (h *CircuitBreakerHook) getFromCache(cmd goredis.Cmder) (string, bool) {
	args := cmd.Args()
	if len(args) < 2 {
		return "", false
	}
	key := fmt.Sprintf("%v", args[1])

	h.cache.mu.RLock()
	defer h.cache.mu.RUnlock()

	cached, ok := h.cache.values[key]
	if !ok || h.clock.Since(cached.timestamp) > cacheTTL {
		return "", false
	}
	return cached.data, true
}
