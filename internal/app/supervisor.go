package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/metrics"
	"github.com/swansong314/matlab-proxy/internal/overlay"
	"github.com/swansong314/matlab-proxy/internal/platform/correlation"
	"github.com/swansong314/matlab-proxy/internal/platform/retry"
	"github.com/swansong314/matlab-proxy/internal/session"
	"go.uber.org/atomic"
)

const (
	commandTimeout = 5 * time.Second  // Actor command timeout
	stopTimeout    = 10 * time.Second // Graceful shutdown timeout
	actionTimeout  = 30 * time.Second // Confirmed backend actions
	publishTimeout = 2 * time.Second
	actionAttempts = 3
)

var (
	ErrSupervisorBusy    = errors.New("supervisor did not accept the command in time")
	ErrSupervisorStopped = errors.New("supervisor stopped")
)

// supervisorCmd is the command interface for the Supervisor actor.
type supervisorCmd interface{ isSupervisorCmd() }

type baseSupervisorCmd struct{}

func (baseSupervisorCmd) isSupervisorCmd() {}

type result struct {
	view domain.View
	snap domain.Snapshot
	err  error
}

type envFetchedCmd struct {
	baseSupervisorCmd
	cfg   domain.EnvConfig
	reply chan result
}

type statusFetchedCmd struct {
	baseSupervisorCmd
	status domain.ServerStatus
	reply  chan result
}

type statusFailedCmd struct {
	baseSupervisorCmd
	reply chan result
}

type toggleOverlayCmd struct {
	baseSupervisorCmd
	reply chan result
}

type openDialogCmd struct {
	baseSupervisorCmd
	kind   domain.DialogKind
	action domain.Action
	reply  chan result
}

type closeDialogCmd struct {
	baseSupervisorCmd
	reply chan result
}

type confirmDialogCmd struct {
	baseSupervisorCmd
	reply chan result
}

type dismissDialogsCmd struct {
	baseSupervisorCmd
	reply chan result
}

type authResultCmd struct {
	baseSupervisorCmd
	authenticated bool
	reply         chan result
}

type stopCmd struct {
	baseSupervisorCmd
}

// SupervisorConfig wires the Supervisor to its collaborators.
// Publisher and Redirector may be nil.
type SupervisorConfig struct {
	Store      *session.Store
	Actions    domain.ActionRunner
	Auth       domain.AuthUpdater
	Publisher  domain.ViewPublisher
	Redirector domain.NavigationRedirector
	Clock      clockwork.Clock
	// Classify decides which token submissions and confirmed actions are retried.
	Classify retry.Classify
	// Resume is the last view published by a previous process, if known.
	// Revisions continue after it and a hidden overlay stays hidden.
	Resume *domain.View
}

// Supervisor owns the session snapshot, the dialog controller and the resolved
// view. All changes run on one goroutine in arrival order; the view is
// re-resolved after every accepted change. Reads are lock-free.
type Supervisor struct {
	cmdCh      chan supervisorCmd
	clock      clockwork.Clock
	store      *session.Store
	dialogs    *overlay.DialogController
	actions    domain.ActionRunner
	auth       domain.AuthUpdater
	publisher  domain.ViewPublisher
	redirector domain.NavigationRedirector
	classify   retry.Classify

	view         *atomic.Pointer[domain.View]
	revision     uint64
	lastRedirect string
	onAction     func()

	ctx      context.Context
	cancel   context.CancelFunc
	actionWg sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates the supervisor and starts its loop.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	classify := cfg.Classify
	if classify == nil {
		classify = retry.Transient
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cmdCh:      make(chan supervisorCmd, 64),
		clock:      clock,
		store:      cfg.Store,
		actions:    cfg.Actions,
		auth:       cfg.Auth,
		publisher:  cfg.Publisher,
		redirector: cfg.Redirector,
		classify:   classify,
		view:       atomic.NewPointer[domain.View](nil),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.dialogs = overlay.NewDialogController(s.hideOverlay)

	if cfg.Resume != nil {
		s.revision = cfg.Resume.Revision
		if !cfg.Resume.Visible {
			if _, err := s.store.SetOverlayVisible(false); err != nil {
				slog.Warn("Failed to restore overlay visibility", "error", err)
			}
		}
		slog.Info("Resuming overlay", "revision", s.revision, "visible", cfg.Resume.Visible)
	}

	initial := overlay.Render(s.store.Snapshot(), nil, s.revision)
	s.view.Store(&initial)

	go s.run()
	return s
}

// OnActionCompleted registers a hook that runs after every confirmed backend
// action, typically a status refresh. Must be called before the first Confirm.
func (s *Supervisor) OnActionCompleted(fn func()) {
	s.onAction = fn
}

// View returns the most recently resolved view.
func (s *Supervisor) View() domain.View {
	return *s.view.Load()
}

// Snapshot returns the current session snapshot.
func (s *Supervisor) Snapshot() domain.Snapshot {
	return s.store.Snapshot()
}

// ApplyEnvConfig records the backend environment configuration.
func (s *Supervisor) ApplyEnvConfig(ctx context.Context, cfg domain.EnvConfig) (domain.Snapshot, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return envFetchedCmd{cfg: cfg, reply: reply}
	})
	return res.snap, err
}

// ApplyStatus records a successful status poll.
func (s *Supervisor) ApplyStatus(ctx context.Context, status domain.ServerStatus) (domain.Snapshot, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return statusFetchedCmd{status: status, reply: reply}
	})
	return res.snap, err
}

// RecordStatusFailure counts a failed status poll.
func (s *Supervisor) RecordStatusFailure(ctx context.Context) (domain.Snapshot, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return statusFailedCmd{reply: reply}
	})
	return res.snap, err
}

// ToggleOverlay flips overlay visibility.
func (s *Supervisor) ToggleOverlay(ctx context.Context) (domain.View, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return toggleOverlayCmd{reply: reply}
	})
	return res.view, err
}

// OpenDialog opens a help dialog, or a confirmation dialog guarding action.
func (s *Supervisor) OpenDialog(ctx context.Context, kind domain.DialogKind, action domain.Action) (domain.View, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return openDialogCmd{kind: kind, action: action, reply: reply}
	})
	return res.view, err
}

// CloseDialog closes the open dialog, if any.
func (s *Supervisor) CloseDialog(ctx context.Context) (domain.View, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return closeDialogCmd{reply: reply}
	})
	return res.view, err
}

// ConfirmDialog confirms the open confirmation dialog and starts its action.
func (s *Supervisor) ConfirmDialog(ctx context.Context) (domain.View, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return confirmDialogCmd{reply: reply}
	})
	return res.view, err
}

// DismissDialogs closes any dialog and hides the overlay.
func (s *Supervisor) DismissDialogs(ctx context.Context) (domain.View, error) {
	res, err := s.request(ctx, func(reply chan result) supervisorCmd {
		return dismissDialogsCmd{reply: reply}
	})
	return res.view, err
}

// SubmitToken forwards an auth token to the backend and records the outcome.
func (s *Supervisor) SubmitToken(ctx context.Context, token string) (domain.AuthStatus, error) {
	if token == "" {
		return domain.AuthStatus{}, domain.ErrNoToken
	}

	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		Clock:          s.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Token submission failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	status, err := retry.Do(ctx, policy, s.classify, func(ctx context.Context) (domain.AuthStatus, error) {
		return s.auth.SubmitToken(ctx, token)
	})
	if err != nil {
		metrics.AuthTokenSubmissionsTotal.WithLabelValues("error").Inc()
		return domain.AuthStatus{}, fmt.Errorf("submit auth token: %w", err)
	}

	if status.Authenticated {
		metrics.AuthTokenSubmissionsTotal.WithLabelValues("authenticated").Inc()
	} else {
		metrics.AuthTokenSubmissionsTotal.WithLabelValues("rejected").Inc()
		slog.InfoContext(ctx, "Auth token rejected", "reason", status.Error)
	}

	_, err = s.request(ctx, func(reply chan result) supervisorCmd {
		return authResultCmd{authenticated: status.Authenticated, reply: reply}
	})
	return status, err
}

// Stop shuts the loop down and waits for in-flight actions, bounded by stopTimeout.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		select {
		case s.cmdCh <- stopCmd{}:
		case <-s.done:
		}

		waited := make(chan struct{})
		go func() {
			<-s.done
			s.actionWg.Wait()
			close(waited)
		}()

		timeout := s.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-waited:
			slog.Info("Supervisor stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Supervisor stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

// request sends cmd to the loop and waits for its reply. Both steps are bounded
// by commandTimeout.
func (s *Supervisor) request(ctx context.Context, build func(reply chan result) supervisorCmd) (result, error) {
	reply := make(chan result, 1)

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case s.cmdCh <- build(reply):
	case <-timer.Chan():
		metrics.SupervisorCommandTimeouts.Inc()
		return result{}, ErrSupervisorBusy
	case <-ctx.Done():
		return result{}, fmt.Errorf("supervisor command: %w", ctx.Err())
	case <-s.done:
		return result{}, ErrSupervisorStopped
	}

	select {
	case res := <-reply:
		return res, res.err
	case <-timer.Chan():
		metrics.SupervisorCommandTimeouts.Inc()
		return result{}, ErrSupervisorBusy
	case <-ctx.Done():
		return result{}, fmt.Errorf("supervisor command: %w", ctx.Err())
	case <-s.done:
		return result{}, ErrSupervisorStopped
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Supervisor panic recovered", "panic", r)
			metrics.SupervisorPanicsTotal.Inc()
		}
	}()

	for cmd := range s.cmdCh {
		switch c := cmd.(type) {
		case envFetchedCmd:
			c.reply <- s.applySnapshot(s.store.ApplyEnvConfig(c.cfg))
		case statusFetchedCmd:
			metrics.StatusPollsTotal.WithLabelValues("success").Inc()
			c.reply <- s.applySnapshot(s.store.ApplyStatus(c.status))
		case statusFailedCmd:
			metrics.StatusPollsTotal.WithLabelValues("error").Inc()
			c.reply <- s.applySnapshot(s.store.RecordFetchFailure())
		case toggleOverlayCmd:
			c.reply <- s.applySnapshot(s.store.ToggleOverlayVisible())
		case authResultCmd:
			c.reply <- s.applySnapshot(s.store.SetAuthenticated(c.authenticated))
		case openDialogCmd:
			c.reply <- s.handleOpenDialog(c)
		case closeDialogCmd:
			if d := s.dialogs.Current(); d != nil {
				metrics.DialogTransitionsTotal.WithLabelValues(string(d.Kind()), "close").Inc()
			}
			s.dialogs.Close()
			c.reply <- result{view: s.commit(), snap: s.store.Snapshot()}
		case confirmDialogCmd:
			c.reply <- s.handleConfirm()
		case dismissDialogsCmd:
			kind := "none"
			if d := s.dialogs.Current(); d != nil {
				kind = string(d.Kind())
			}
			metrics.DialogTransitionsTotal.WithLabelValues(kind, "dismiss").Inc()
			s.dialogs.DismissAll()
			c.reply <- result{view: s.commit(), snap: s.store.Snapshot()}
		case stopCmd:
			slog.Info("Supervisor shutting down", "revision", s.revision)
			return
		default:
			slog.Warn("Supervisor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (s *Supervisor) applySnapshot(snap domain.Snapshot, err error) result {
	if err != nil {
		return result{view: s.View(), snap: snap, err: err}
	}
	return result{view: s.commit(), snap: snap}
}

func (s *Supervisor) handleOpenDialog(c openDialogCmd) result {
	var onConfirm func()
	message := ""
	if c.kind == domain.DialogConfirmation {
		if _, err := domain.ParseAction(string(c.action)); err != nil {
			return result{view: s.View(), err: err}
		}
		message = c.action.ConfirmationMessage()
		action := c.action
		onConfirm = func() { s.startAction(action) }
	}

	if err := s.dialogs.Open(c.kind, message, onConfirm); err != nil {
		metrics.DialogTransitionsTotal.WithLabelValues(string(c.kind), "rejected").Inc()
		return result{view: s.View(), err: err}
	}
	metrics.DialogTransitionsTotal.WithLabelValues(string(c.kind), "open").Inc()
	return result{view: s.commit(), snap: s.store.Snapshot()}
}

func (s *Supervisor) handleConfirm() result {
	if err := s.dialogs.Confirm(); err != nil {
		return result{view: s.View(), err: err}
	}
	metrics.DialogTransitionsTotal.WithLabelValues(string(domain.DialogConfirmation), "confirm").Inc()
	return result{view: s.commit(), snap: s.store.Snapshot()}
}

// hideOverlay is the dialog controller's dismiss hook. It runs on the loop.
func (s *Supervisor) hideOverlay() {
	if _, err := s.store.SetOverlayVisible(false); err != nil {
		slog.Warn("Failed to hide overlay", "error", err)
	}
}

// startAction runs a confirmed backend action off the loop.
func (s *Supervisor) startAction(action domain.Action) {
	s.actionWg.Add(1)
	go func() {
		defer s.actionWg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
		defer cancel()
		ctx = correlation.WithID(ctx, correlation.NewID())

		policy := retry.Policy{
			MaxAttempts:    actionAttempts,
			InitialBackoff: time.Second,
			MaxBackoff:     5 * time.Second,
			BusyBackoff:    5 * time.Second,
			Clock:          s.clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.WarnContext(ctx, "Confirmed action failed, retrying", "action", action, "attempt", attempt, "backoff", backoff, "error", err)
			},
		}

		slog.InfoContext(ctx, "Running confirmed action", "action", action)
		if err := retry.DoVoid(ctx, policy, s.classify, func(ctx context.Context) error {
			return s.actions.Run(ctx, action)
		}); err != nil {
			metrics.ActionsTotal.WithLabelValues(string(action), "error").Inc()
			slog.ErrorContext(ctx, "Confirmed action failed", "action", action, "error", err)
		} else {
			metrics.ActionsTotal.WithLabelValues(string(action), "success").Inc()
		}

		if s.onAction != nil {
			s.onAction()
		}
	}()
}

// commit re-resolves the view from the current snapshot and dialog, then
// publishes it when it changed. Redirects fire once per distinct load URL.
func (s *Supervisor) commit() domain.View {
	snap := s.store.Snapshot()
	prev := s.View()

	next := overlay.Render(snap, s.dialogs.Current(), prev.Revision)
	metrics.OverlayEvaluationsTotal.WithLabelValues(string(next.Content.Kind)).Inc()

	if !sameView(prev, next) {
		s.revision++
		next.Revision = s.revision
		s.view.Store(&next)

		metrics.OverlayViewRevision.Set(float64(next.Revision))
		metrics.OverlayVisible.Set(boolToFloat(next.Visible))
		metrics.ConnectionErrorActive.Set(boolToFloat(snap.IsConnectionError))
		s.publish(next)
	}

	s.maybeRedirect(snap)
	return s.View()
}

func (s *Supervisor) publish(view domain.View) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.PublishView(ctx, view); err != nil {
		slog.Warn("Failed to publish overlay view", "revision", view.Revision, "error", err)
	}
}

func (s *Supervisor) maybeRedirect(snap domain.Snapshot) {
	if snap.LoadURL == nil {
		s.lastRedirect = ""
		return
	}
	if *snap.LoadURL == s.lastRedirect {
		return
	}
	s.lastRedirect = *snap.LoadURL
	metrics.RedirectsTotal.Inc()
	slog.Info("Redirecting browsers", "url", s.lastRedirect)
	if s.redirector != nil {
		s.redirector.RedirectTo(s.lastRedirect)
	}
}

// sameView compares everything but the revision.
func sameView(a, b domain.View) bool {
	return a.Visible == b.Visible &&
		a.ShowTrigger == b.ShowTrigger &&
		a.Application == b.Application &&
		a.Content.Kind == b.Content.Kind &&
		a.Content.Message == b.Content.Message &&
		a.Content.DialogID == b.Content.DialogID &&
		slices.Equal(a.Content.Entitlements, b.Content.Entitlements) &&
		slices.Equal(a.Warnings, b.Warnings)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
