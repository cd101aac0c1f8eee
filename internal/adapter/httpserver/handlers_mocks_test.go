package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/platform/config"
)

// --- Mock implementations ---

type mockOverlayService struct {
	viewFn           func() domain.View
	toggleOverlayFn  func(ctx context.Context) (domain.View, error)
	openDialogFn     func(ctx context.Context, kind domain.DialogKind, action domain.Action) (domain.View, error)
	closeDialogFn    func(ctx context.Context) (domain.View, error)
	confirmDialogFn  func(ctx context.Context) (domain.View, error)
	dismissDialogsFn func(ctx context.Context) (domain.View, error)
	submitTokenFn    func(ctx context.Context, token string) (domain.AuthStatus, error)
}

func (m *mockOverlayService) View() domain.View {
	if m.viewFn != nil {
		return m.viewFn()
	}
	return testView()
}

func (m *mockOverlayService) ToggleOverlay(ctx context.Context) (domain.View, error) {
	if m.toggleOverlayFn != nil {
		return m.toggleOverlayFn(ctx)
	}
	return testView(), nil
}

func (m *mockOverlayService) OpenDialog(ctx context.Context, kind domain.DialogKind, action domain.Action) (domain.View, error) {
	if m.openDialogFn != nil {
		return m.openDialogFn(ctx, kind, action)
	}
	return testView(), nil
}

func (m *mockOverlayService) CloseDialog(ctx context.Context) (domain.View, error) {
	if m.closeDialogFn != nil {
		return m.closeDialogFn(ctx)
	}
	return testView(), nil
}

func (m *mockOverlayService) ConfirmDialog(ctx context.Context) (domain.View, error) {
	if m.confirmDialogFn != nil {
		return m.confirmDialogFn(ctx)
	}
	return testView(), nil
}

func (m *mockOverlayService) DismissDialogs(ctx context.Context) (domain.View, error) {
	if m.dismissDialogsFn != nil {
		return m.dismissDialogsFn(ctx)
	}
	return testView(), nil
}

func (m *mockOverlayService) SubmitToken(ctx context.Context, token string) (domain.AuthStatus, error) {
	if m.submitTokenFn != nil {
		return m.submitTokenFn(ctx, token)
	}
	return domain.AuthStatus{Authenticated: true}, nil
}

type mockStreamHub struct {
	mu           sync.Mutex
	registerFn   func(conn *websocket.Conn) (uuid.UUID, error)
	unregistered []uuid.UUID
}

func (m *mockStreamHub) Register(conn *websocket.Conn) (uuid.UUID, error) {
	if m.registerFn != nil {
		return m.registerFn(conn)
	}
	return uuid.New(), nil
}

func (m *mockStreamHub) Unregister(clientID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregistered = append(m.unregistered, clientID)
}

func (m *mockStreamHub) unregisteredIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.unregistered...)
}

// --- Test helpers ---

type testServerOption func(*testServerOptions)

type testServerOptions struct {
	config       *config.Config
	hub          streamHub
	healthChecks []HealthCheck
}

func withBasePath(path string) testServerOption {
	return func(o *testServerOptions) { o.config.BasePath = path }
}

func withRateLimit(perSecond float64) testServerOption {
	return func(o *testServerOptions) { o.config.ControlRateLimit = perSecond }
}

func withStreamLimit(perIP int) testServerOption {
	return func(o *testServerOptions) { o.config.MaxStreamsPerIP = perIP }
}

func withHub(hub streamHub) testServerOption {
	return func(o *testServerOptions) { o.hub = hub }
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(o *testServerOptions) { o.healthChecks = checks }
}

func newTestServer(t *testing.T, overlay overlayService, opts ...testServerOption) *Server {
	t.Helper()
	o := &testServerOptions{
		config: &config.Config{
			AppEnv:            "test",
			Port:              "0",
			ControlRateLimit:  1000,
			MaxStreamsPerIP:   10,
			StreamConnectRate: 1000,
		},
		hub: &mockStreamHub{},
	}
	for _, opt := range opts {
		opt(o)
	}

	srv, err := NewServer(o.config, overlay, o.hub, o.healthChecks)
	require.NoError(t, err)
	return srv
}

func testView() domain.View {
	return domain.View{
		Revision:    1,
		Visible:     true,
		Content:     domain.Content{Kind: domain.ContentSessionInfo},
		Application: domain.ApplicationLive,
	}
}

func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
