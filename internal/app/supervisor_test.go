package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/platform/retry"
	"github.com/swansong314/matlab-proxy/internal/session"
)

// --- Mocks ---

type mockActionRunner struct {
	RunFn func(ctx context.Context, action domain.Action) error
}

func (m *mockActionRunner) Run(ctx context.Context, action domain.Action) error {
	if m.RunFn != nil {
		return m.RunFn(ctx, action)
	}
	return nil
}

type mockAuthUpdater struct {
	SubmitTokenFn func(ctx context.Context, token string) (domain.AuthStatus, error)
}

func (m *mockAuthUpdater) SubmitToken(ctx context.Context, token string) (domain.AuthStatus, error) {
	if m.SubmitTokenFn != nil {
		return m.SubmitTokenFn(ctx, token)
	}
	return domain.AuthStatus{Authenticated: true}, nil
}

type mockViewPublisher struct {
	mu    sync.Mutex
	views []domain.View
}

func (m *mockViewPublisher) PublishView(_ context.Context, view domain.View) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, view)
	return nil
}

func (m *mockViewPublisher) published() []domain.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.View, len(m.views))
	copy(out, m.views)
	return out
}

type mockRedirector struct {
	mu   sync.Mutex
	urls []string
}

func (m *mockRedirector) RedirectTo(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, url)
}

func (m *mockRedirector) redirects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}

type supervisorFixture struct {
	sup        *Supervisor
	actions    *mockActionRunner
	auth       *mockAuthUpdater
	publisher  *mockViewPublisher
	redirector *mockRedirector
	clock      *clockwork.FakeClock
}

func newTestSupervisor(t *testing.T) *supervisorFixture {
	t.Helper()

	f := &supervisorFixture{
		actions:    &mockActionRunner{},
		auth:       &mockAuthUpdater{},
		publisher:  &mockViewPublisher{},
		redirector: &mockRedirector{},
		clock:      clockwork.NewFakeClock(),
	}
	f.sup = NewSupervisor(SupervisorConfig{
		Store:      session.NewStore(session.Settings{ConnectionErrorThreshold: 2}),
		Actions:    f.actions,
		Auth:       f.auth,
		Publisher:  f.publisher,
		Redirector: f.redirector,
		Clock:      f.clock,
	})
	t.Cleanup(f.sup.Stop)
	return f
}

func upStatus() domain.ServerStatus {
	var s domain.ServerStatus
	s.Matlab.Status = "up"
	s.Licensing = &domain.LicensingInfo{Type: domain.LicensingNLM, ConnectionString: "27000@license"}
	return s
}

// --- Tests ---

func TestSupervisor_InitialView(t *testing.T) {
	f := newTestSupervisor(t)

	view := f.sup.View()
	assert.Equal(t, uint64(0), view.Revision)
	assert.True(t, view.Visible)
	assert.Equal(t, domain.ContentSessionInfo, view.Content.Kind)
	assert.Equal(t, domain.ApplicationHidden, view.Application)
	assert.Empty(t, f.publisher.published())
}

func TestSupervisor_ResumesFromPreviousView(t *testing.T) {
	publisher := &mockViewPublisher{}
	sup := NewSupervisor(SupervisorConfig{
		Store:     session.NewStore(session.Settings{ConnectionErrorThreshold: 2}),
		Actions:   &mockActionRunner{},
		Auth:      &mockAuthUpdater{},
		Publisher: publisher,
		Clock:     clockwork.NewFakeClock(),
		Resume:    &domain.View{Revision: 41, Visible: false},
	})
	t.Cleanup(sup.Stop)

	assert.Equal(t, uint64(41), sup.View().Revision)
	assert.False(t, sup.View().Visible)
	assert.False(t, sup.Snapshot().OverlayVisible)
	assert.Empty(t, publisher.published())

	view, err := sup.ToggleOverlay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), view.Revision)
	assert.True(t, view.Visible)
	require.Len(t, publisher.published(), 1)
	assert.Equal(t, uint64(42), publisher.published()[0].Revision)
}

func TestSupervisor_StatusUpdatesView(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	snap, err := f.sup.ApplyStatus(ctx, upStatus())
	require.NoError(t, err)
	assert.True(t, snap.MatlabUp)

	view := f.sup.View()
	assert.Equal(t, uint64(1), view.Revision)
	assert.Equal(t, domain.ApplicationLive, view.Application)

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, view, published[0])
}

func TestSupervisor_UnchangedViewIsNotRepublished(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.sup.ApplyStatus(ctx, upStatus())
		require.NoError(t, err)
	}

	assert.Len(t, f.publisher.published(), 1)
	assert.Equal(t, uint64(1), f.sup.View().Revision)
}

func TestSupervisor_ConnectionError(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	_, err := f.sup.RecordStatusFailure(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, domain.ContentConnectionError, f.sup.View().Content.Kind)

	snap, err := f.sup.RecordStatusFailure(ctx)
	require.NoError(t, err)
	assert.True(t, snap.IsConnectionError)

	view := f.sup.View()
	assert.Equal(t, domain.ContentConnectionError, view.Content.Kind)
	assert.Equal(t, domain.ConnectionErrorMessage, view.Content.Message)
}

func TestSupervisor_ToggleOverlay(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	view, err := f.sup.ToggleOverlay(ctx)
	require.NoError(t, err)
	assert.False(t, view.Visible)
	assert.True(t, view.ShowTrigger)
	assert.Equal(t, domain.ContentNone, view.Content.Kind)

	view, err = f.sup.ToggleOverlay(ctx)
	require.NoError(t, err)
	assert.True(t, view.Visible)
}

func TestSupervisor_HelpDialog(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	view, err := f.sup.OpenDialog(ctx, domain.DialogHelp, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ContentHelp, view.Content.Kind)
	assert.NotEmpty(t, view.Content.DialogID)

	_, err = f.sup.OpenDialog(ctx, domain.DialogConfirmation, domain.ActionStopMatlab)
	assert.ErrorIs(t, err, domain.ErrDialogAlreadyOpen)
	assert.Equal(t, domain.ContentHelp, f.sup.View().Content.Kind)

	view, err = f.sup.CloseDialog(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentSessionInfo, view.Content.Kind)
}

func TestSupervisor_ConfirmRunsActionOnce(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ran []domain.Action
	f.actions.RunFn = func(_ context.Context, action domain.Action) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, action)
		return nil
	}
	refreshed := make(chan struct{}, 1)
	f.sup.OnActionCompleted(func() { refreshed <- struct{}{} })

	view, err := f.sup.OpenDialog(ctx, domain.DialogConfirmation, domain.ActionStopMatlab)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentConfirmation, view.Content.Kind)
	assert.Equal(t, domain.ActionStopMatlab.ConfirmationMessage(), view.Content.Message)

	view, err = f.sup.ConfirmDialog(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentSessionInfo, view.Content.Kind)

	_, err = f.sup.ConfirmDialog(ctx)
	assert.ErrorIs(t, err, domain.ErrNoConfirmation)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("action completion hook not called")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.Action{domain.ActionStopMatlab}, ran)
}

func TestSupervisor_ConfirmRetriesTransientActionFailure(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	var attempts atomic.Int32
	f.actions.RunFn = func(context.Context, domain.Action) error {
		if attempts.Add(1) == 1 {
			return errors.New("backend busy")
		}
		return nil
	}
	refreshed := make(chan struct{}, 1)
	f.sup.OnActionCompleted(func() { refreshed <- struct{}{} })

	_, err := f.sup.OpenDialog(ctx, domain.DialogConfirmation, domain.ActionStartMatlab)
	require.NoError(t, err)
	_, err = f.sup.ConfirmDialog(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 1))
	f.clock.Advance(time.Second)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("action completion hook not called")
	}
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSupervisor_ConfirmDoesNotRetryPermanentFailure(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()
	f.sup.classify = func(error) retry.Action { return retry.Stop }

	var attempts atomic.Int32
	f.actions.RunFn = func(context.Context, domain.Action) error {
		attempts.Add(1)
		return errors.New("licensing not set")
	}
	refreshed := make(chan struct{}, 1)
	f.sup.OnActionCompleted(func() { refreshed <- struct{}{} })

	_, err := f.sup.OpenDialog(ctx, domain.DialogConfirmation, domain.ActionUnsetLicensing)
	require.NoError(t, err)
	_, err = f.sup.ConfirmDialog(ctx)
	require.NoError(t, err)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("action completion hook not called")
	}
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSupervisor_ConfirmationRequiresKnownAction(t *testing.T) {
	f := newTestSupervisor(t)

	_, err := f.sup.OpenDialog(context.Background(), domain.DialogConfirmation, "reboot")
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Equal(t, domain.ContentSessionInfo, f.sup.View().Content.Kind)
}

func TestSupervisor_UnknownDialogKind(t *testing.T) {
	f := newTestSupervisor(t)

	_, err := f.sup.OpenDialog(context.Background(), "settings", "")
	assert.ErrorIs(t, err, domain.ErrUnknownDialog)
}

func TestSupervisor_DismissHidesOverlay(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	_, err := f.sup.OpenDialog(ctx, domain.DialogHelp, "")
	require.NoError(t, err)

	view, err := f.sup.DismissDialogs(ctx)
	require.NoError(t, err)
	assert.False(t, view.Visible)
	assert.False(t, f.sup.Snapshot().OverlayVisible)
}

func TestSupervisor_RedirectOncePerURL(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	status := upStatus()
	url := "/matlab/default/"
	status.LoadURL = &url

	for i := 0; i < 3; i++ {
		_, err := f.sup.ApplyStatus(ctx, status)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{url}, f.redirector.redirects())

	status.LoadURL = nil
	_, err := f.sup.ApplyStatus(ctx, status)
	require.NoError(t, err)

	status.LoadURL = &url
	_, err = f.sup.ApplyStatus(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, []string{url, url}, f.redirector.redirects())
}

func TestSupervisor_SubmitToken(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	var env domain.EnvConfig
	env.Authentication.Enabled = true
	_, err := f.sup.ApplyEnvConfig(ctx, env)
	require.NoError(t, err)
	_, err = f.sup.ApplyStatus(ctx, upStatus())
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationBlurred, f.sup.View().Application)

	var got string
	f.auth.SubmitTokenFn = func(_ context.Context, token string) (domain.AuthStatus, error) {
		got = token
		return domain.AuthStatus{Authenticated: true}, nil
	}

	status, err := f.sup.SubmitToken(ctx, "secret")
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "secret", got)
	assert.True(t, f.sup.Snapshot().IsAuthenticated)
	assert.Equal(t, domain.ApplicationLive, f.sup.View().Application)
}

func TestSupervisor_SubmitTokenRejected(t *testing.T) {
	f := newTestSupervisor(t)
	f.auth.SubmitTokenFn = func(context.Context, string) (domain.AuthStatus, error) {
		return domain.AuthStatus{Authenticated: false, Error: "invalid token"}, nil
	}

	status, err := f.sup.SubmitToken(context.Background(), "wrong")
	require.NoError(t, err)
	assert.False(t, status.Authenticated)
	assert.False(t, f.sup.Snapshot().IsAuthenticated)
}

func TestSupervisor_SubmitTokenEmpty(t *testing.T) {
	f := newTestSupervisor(t)

	_, err := f.sup.SubmitToken(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNoToken)
}

func TestSupervisor_SubmitTokenPermanentFailure(t *testing.T) {
	f := newTestSupervisor(t)
	backendErr := errors.New("bad request")
	f.sup.classify = func(error) retry.Action { return retry.Stop }
	f.auth.SubmitTokenFn = func(context.Context, string) (domain.AuthStatus, error) {
		return domain.AuthStatus{}, backendErr
	}

	_, err := f.sup.SubmitToken(context.Background(), "token")
	assert.ErrorIs(t, err, backendErr)
}

func TestSupervisor_StoppedRejectsCommands(t *testing.T) {
	f := newTestSupervisor(t)
	f.sup.Stop()

	_, err := f.sup.ToggleOverlay(context.Background())
	assert.ErrorIs(t, err, ErrSupervisorStopped)
}

func TestSupervisor_ConcurrentCommands(t *testing.T) {
	f := newTestSupervisor(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.sup.ToggleOverlay(ctx)
		}()
	}
	wg.Wait()

	// An even number of toggles ends where it started.
	assert.True(t, f.sup.View().Visible)
	assert.True(t, f.sup.Snapshot().OverlayVisible)
}
