package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/platform/correlation"
	"github.com/swansong314/matlab-proxy/internal/platform/retry"
)

const (
	envConfigInitialBackoff = time.Second
	envConfigMaxBackoff     = 30 * time.Second
	pollTimeout             = 10 * time.Second
)

// StatusSink receives poll results. *Supervisor implements it.
type StatusSink interface {
	ApplyEnvConfig(ctx context.Context, cfg domain.EnvConfig) (domain.Snapshot, error)
	ApplyStatus(ctx context.Context, status domain.ServerStatus) (domain.Snapshot, error)
	RecordStatusFailure(ctx context.Context) (domain.Snapshot, error)
	Snapshot() domain.Snapshot
}

// Poller fetches the environment configuration once and then polls the
// server status at the interval the current snapshot asks for.
type Poller struct {
	env      domain.EnvConfigFetcher
	status   domain.StatusFetcher
	sink     StatusSink
	clock    clockwork.Clock
	classify retry.Classify

	refreshCh   chan struct{}
	lastSuccess time.Time
}

func NewPoller(env domain.EnvConfigFetcher, status domain.StatusFetcher, sink StatusSink, clock clockwork.Clock, classify retry.Classify) *Poller {
	if classify == nil {
		classify = retry.Transient
	}
	return &Poller{
		env:       env,
		status:    status,
		sink:      sink,
		clock:     clock,
		classify:  classify,
		refreshCh: make(chan struct{}, 1),
	}
}

// Refresh asks for an immediate status poll. Requests coalesce while one is pending.
func (p *Poller) Refresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	go p.loadEnvConfig(ctx)

	for {
		p.poll(ctx)

		timer := p.clock.NewTimer(p.sink.Snapshot().FetchInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

func (p *Poller) loadEnvConfig(ctx context.Context) {
	ctx = correlation.WithID(ctx, correlation.NewID())

	policy := retry.Policy{
		InitialBackoff: envConfigInitialBackoff,
		MaxBackoff:     envConfigMaxBackoff,
		BusyBackoff:    envConfigMaxBackoff,
		Clock:          p.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Env config fetch failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	cfg, err := retry.Do(ctx, policy, p.classify, p.env.FetchEnvConfig)
	if err != nil {
		if ctx.Err() == nil {
			slog.ErrorContext(ctx, "Env config fetch abandoned", "error", err)
		}
		return
	}

	if _, err := p.sink.ApplyEnvConfig(ctx, cfg); err != nil {
		slog.WarnContext(ctx, "Env config not applied", "error", err)
		return
	}
	slog.InfoContext(ctx, "Env config loaded", "auth_enabled", cfg.Authentication.Enabled, "matlab_version", cfg.Matlab.Version)
}

func (p *Poller) poll(ctx context.Context) {
	pollCtx := correlation.WithID(ctx, correlation.NewID())

	fetchCtx, cancel := context.WithTimeout(pollCtx, pollTimeout)
	status, err := p.status.FetchStatus(fetchCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		snap, sinkErr := p.sink.RecordStatusFailure(pollCtx)
		if sinkErr != nil {
			slog.WarnContext(pollCtx, "Poller: failure not recorded", "error", sinkErr)
			return
		}
		slog.WarnContext(pollCtx, "Poller: status fetch failed",
			"error", err,
			"last_success", p.lastSuccessText(),
			"connection_error", snap.IsConnectionError)
		return
	}

	p.lastSuccess = p.clock.Now()
	snap, err := p.sink.ApplyStatus(pollCtx, status)
	if err != nil {
		slog.WarnContext(pollCtx, "Poller: status not applied", "error", err)
		return
	}
	slog.DebugContext(pollCtx, "Poller: status applied", "matlab", snap.MatlabStatus, "next_poll", snap.FetchInterval)
}

func (p *Poller) lastSuccessText() string {
	if p.lastSuccess.IsZero() {
		return "never"
	}
	return humanize.RelTime(p.lastSuccess, p.clock.Now(), "ago", "from now")
}
