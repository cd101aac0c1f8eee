package httpserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, srv *Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/overlay"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func TestOverlayStream_RegistersAndUnregisters(t *testing.T) {
	clientID := uuid.New()
	registered := make(chan *websocket.Conn, 1)
	hub := &mockStreamHub{
		registerFn: func(conn *websocket.Conn) (uuid.UUID, error) {
			registered <- conn
			return clientID, nil
		},
	}
	srv := newTestServer(t, &mockOverlayService{}, withHub(hub))

	conn, _, err := dialStream(t, srv, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-registered:
	case <-time.After(time.Second):
		t.Fatal("connection was not registered")
	}

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"view"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"view"}`, string(msg))

	conn.Close()
	assert.Eventually(t, func() bool {
		ids := hub.unregisteredIDs()
		return len(ids) == 1 && ids[0] == clientID
	}, time.Second, 5*time.Millisecond)
}

func TestOverlayStream_RejectedByHub(t *testing.T) {
	hub := &mockStreamHub{
		registerFn: func(conn *websocket.Conn) (uuid.UUID, error) {
			_ = conn.Close()
			return uuid.Nil, errors.New("too many overlay clients")
		},
	}
	srv := newTestServer(t, &mockOverlayService{}, withHub(hub))

	conn, _, err := dialStream(t, srv, nil)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Empty(t, hub.unregisteredIDs())
}

func TestOverlayStream_ForeignOriginRejected(t *testing.T) {
	hub := &mockStreamHub{
		registerFn: func(*websocket.Conn) (uuid.UUID, error) {
			t.Error("Register should not be called for a rejected origin")
			return uuid.Nil, nil
		},
	}
	srv := newTestServer(t, &mockOverlayService{}, withHub(hub))

	_, resp, err := dialStream(t, srv, http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOverlayStream_PerIPLimit(t *testing.T) {
	hub := &mockStreamHub{}
	srv := newTestServer(t, &mockOverlayService{}, withHub(hub), withStreamLimit(1))

	_, _, err := dialStream(t, srv, nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return srv.streams.openStreams("127.0.0.1") == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := dialStream(t, srv, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
