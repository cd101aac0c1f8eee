package broadcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/swansong314/matlab-proxy/internal/metrics"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
	idleTimeout   = 30 * time.Minute
	idleNotice    = time.Minute // warning frame sent this long before the idle cut
	queueSize     = 16
)

// idleStage is where a connection stands relative to the idle policy.
type idleStage int

const (
	idleActive idleStage = iota
	idleWarn
	idleExpired
)

// clientWriter is the only goroutine that writes to one overlay connection.
// It drains queued frames, pings the browser and applies the idle policy:
// a warning frame one minute before the cut, then a closing frame that tells
// the page not to reconnect on its own.
type clientWriter struct {
	conn  *websocket.Conn
	clock clockwork.Clock
	queue chan []byte
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu       sync.Mutex
	lastPong time.Time
	warned   bool
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		conn:     conn,
		clock:    clock,
		queue:    make(chan []byte, queueSize),
		quit:     make(chan struct{}),
		lastPong: clock.Now(),
	}
	_ = conn.SetReadDeadline(clock.Now().Add(pongDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
		cw.touch()
		return nil
	})

	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-cw.queue:
			start := cw.clock.Now()
			if err := cw.write(websocket.TextMessage, data); err != nil {
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-ticker.Chan():
			if !cw.keepalive() {
				return
			}
		case <-cw.quit:
			return
		}
	}
}

// keepalive runs on every ping tick. It reports false once the connection
// should no longer be served.
func (cw *clientWriter) keepalive() bool {
	switch stage, left := cw.idle(); stage {
	case idleExpired:
		metrics.WebSocketIdleDisconnects.Inc()
		cw.close(Frame{Type: FrameClosing, Message: "Disconnected after a period of inactivity."}, websocket.CloseGoingAway, "idle timeout")
		return false
	case idleWarn:
		cw.warn(left)
	}

	if err := cw.write(websocket.PingMessage, nil); err != nil {
		metrics.WebSocketPingFailures.Inc()
		return false
	}
	return true
}

// idle classifies the time since the last pong and returns what is left
// before the cut.
func (cw *clientWriter) idle() (idleStage, time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	left := idleTimeout - cw.clock.Since(cw.lastPong)
	switch {
	case left <= 0:
		return idleExpired, 0
	case left <= idleNotice && !cw.warned:
		return idleWarn, left
	default:
		return idleActive, left
	}
}

func (cw *clientWriter) warn(left time.Duration) {
	frame := Frame{
		Type:         FrameWarning,
		Message:      fmt.Sprintf("Connection idle. Disconnecting in %d seconds without activity.", int(left.Seconds())),
		DisconnectIn: int(left.Seconds()),
	}
	if cw.writeFrame(frame) != nil {
		return
	}
	cw.mu.Lock()
	cw.warned = true
	cw.mu.Unlock()
}

func (cw *clientWriter) touch() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.lastPong = cw.clock.Now()
	cw.warned = false
}

func (cw *clientWriter) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	return cw.write(websocket.TextMessage, data)
}

func (cw *clientWriter) write(messageType int, data []byte) error {
	_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
	return cw.conn.WriteMessage(messageType, data)
}

// close sends the closing frame followed by a close control frame. Only the
// writing goroutine may call it.
func (cw *clientWriter) close(frame Frame, code int, reason string) {
	_ = cw.writeFrame(frame)
	_ = cw.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// stop ends the writer and closes the connection without a goodbye.
func (cw *clientWriter) stop() {
	cw.once.Do(func() {
		close(cw.quit)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// shutdown tells the browser the server is going away and that it should
// reconnect, then closes the connection. The run goroutine exits first so
// writes never overlap.
func (cw *clientWriter) shutdown(reason string) {
	cw.once.Do(func() {
		close(cw.quit)
		cw.wg.Wait()

		cw.close(Frame{Type: FrameClosing, Message: reason, Reconnect: true}, websocket.CloseNormalClosure, reason)
		_ = cw.conn.Close()
	})
}
