package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	commandTimeout = 5 * time.Second  // Actor command timeout
	stopTimeout    = 10 * time.Second // Graceful shutdown timeout
	depthWarning   = 200              // 80% of the command channel
)

var (
	ErrTooManyClients = errors.New("too many overlay clients")
	ErrStopped        = errors.New("broadcaster stopped")
)

// Frame types sent to overlay clients.
const (
	FrameView     = "view"
	FrameRedirect = "redirect"
	FrameWarning  = "warning" // idle connection is about to be cut
	FrameClosing  = "closing" // last frame before the server closes the stream
)

// Frame is one message on the overlay stream.
type Frame struct {
	Type         string       `json:"type"`
	View         *domain.View `json:"view,omitempty"`
	URL          string       `json:"url,omitempty"`
	Message      string       `json:"message,omitempty"`
	DisconnectIn int          `json:"disconnect_in,omitempty"` // seconds, warning frames
	Reconnect    bool         `json:"reconnect,omitempty"`     // closing frames
}

// broadcasterCmd is the command interface for the Broadcaster actor.
type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	clientID     uuid.UUID
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	clientID uuid.UUID
}

type publishViewCmd struct {
	baseBroadcasterCmd
	view domain.View
}

type redirectCmd struct {
	baseBroadcasterCmd
	url string
}

type getClientCountCmd struct {
	baseBroadcasterCmd
	replyChannel chan int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// Broadcaster fans overlay views and navigation redirects out to every
// connected browser. New clients receive the latest view on connect.
type Broadcaster struct {
	cmdCh      chan broadcasterCmd
	clock      clockwork.Clock
	clients    map[uuid.UUID]*clientWriter
	latest     []byte
	maxClients int
	done       chan struct{}
	stopOnce   sync.Once
}

// NewBroadcaster creates a broadcaster and starts its loop.
// maxClients limits concurrent overlay connections across the process.
func NewBroadcaster(clock clockwork.Clock, maxClients int) *Broadcaster {
	b := &Broadcaster{
		cmdCh:      make(chan broadcasterCmd, 256),
		clock:      clock,
		clients:    make(map[uuid.UUID]*clientWriter),
		maxClients: maxClients,
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

// Register adds a client and returns its ID. The connection is closed when
// the limit is reached.
func (b *Broadcaster) Register(conn *websocket.Conn) (uuid.UUID, error) {
	id := uuid.New()
	errCh := make(chan error, 1)
	if err := b.send(registerCmd{clientID: id, connection: conn, errorChannel: errCh}); err != nil {
		return uuid.Nil, err
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return id, err
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	case <-b.done:
		return uuid.Nil, ErrStopped
	}
}

// Unregister removes a client.
func (b *Broadcaster) Unregister(clientID uuid.UUID) {
	_ = b.send(unregisterCmd{clientID: clientID})
}

// ClientCount returns the number of connected clients, or -1 on timeout.
func (b *Broadcaster) ClientCount() int {
	replyCh := make(chan int, 1)
	if err := b.send(getClientCountCmd{replyChannel: replyCh}); err != nil {
		return -1
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	case <-b.done:
		return -1
	}
}

// PublishView queues view for every client and caches it for late joiners.
func (b *Broadcaster) PublishView(ctx context.Context, view domain.View) error {
	if b.stopped() {
		return ErrStopped
	}
	select {
	case b.cmdCh <- publishViewCmd{view: view}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish view: %w", ctx.Err())
	case <-b.done:
		return ErrStopped
	}
}

// RedirectTo tells every connected browser to navigate to url.
func (b *Broadcaster) RedirectTo(url string) {
	if err := b.send(redirectCmd{url: url}); err != nil {
		slog.Warn("Redirect not delivered", "url", url, "error", err)
	}
}

// Stop shuts down the broadcaster, closing all client connections.
// Blocks until the loop has exited or the timeout is reached.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		_ = b.send(stopCmd{})

		timeout := b.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-b.done:
			slog.Info("Broadcaster stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func (b *Broadcaster) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) send(cmd broadcasterCmd) error {
	if b.stopped() {
		return ErrStopped
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case b.cmdCh <- cmd:
		return nil
	case <-timer.Chan():
		return fmt.Errorf("broadcaster command %T timed out after %v", cmd, commandTimeout)
	case <-b.done:
		return ErrStopped
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			metrics.BroadcasterPanicsTotal.Inc()
			b.closeAllClients("broadcaster panic")
		}
	}()

	// Track command channel depth every second
	depthTicker := b.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(b.cmdCh)
			metrics.BroadcasterCommandChannelDepth.Set(float64(depth))
			if depth > depthWarning {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(b.cmdCh))
			}

		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.handleUnregister(c.clientID)
			case publishViewCmd:
				b.handlePublishView(c.view)
			case redirectCmd:
				b.fanOut(Frame{Type: FrameRedirect, URL: c.url})
			case getClientCountCmd:
				c.replyChannel <- len(b.clients)
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		slog.Warn("Rejecting overlay client: max clients reached", "max_clients", b.maxClients)
		metrics.WebSocketConnectionsRejected.WithLabelValues("global_limit").Inc()
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("%w: limit %d", ErrTooManyClients, b.maxClients)
		return
	}

	cw := newClientWriter(c.connection, b.clock)
	b.clients[c.clientID] = cw
	if b.latest != nil {
		cw.queue <- b.latest
	}

	metrics.BroadcasterConnectedClients.Set(float64(len(b.clients)))
	slog.Debug("Overlay client registered", "client_id", c.clientID.String(), "total_clients", len(b.clients))
	c.errorChannel <- nil
}

func (b *Broadcaster) handleUnregister(clientID uuid.UUID) {
	cw, exists := b.clients[clientID]
	if !exists {
		return
	}

	cw.stop()
	delete(b.clients, clientID)
	metrics.BroadcasterConnectedClients.Set(float64(len(b.clients)))
	slog.Debug("Overlay client unregistered", "client_id", clientID.String(), "remaining_clients", len(b.clients))
}

func (b *Broadcaster) handlePublishView(view domain.View) {
	data := b.fanOut(Frame{Type: FrameView, View: &view})
	if data != nil {
		b.latest = data
	}
}

// fanOut encodes frame and queues it for every client. Clients whose buffer
// is full are evicted. Returns the encoded frame, or nil on encoding failure.
func (b *Broadcaster) fanOut(frame Frame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal overlay frame", "type", frame.Type, "error", err)
		return nil
	}

	var slow []uuid.UUID
	for id, writer := range b.clients {
		select {
		case writer.queue <- data:
		default:
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		slog.Warn("Disconnecting slow overlay client", "client_id", id.String())
		metrics.BroadcasterSlowClientsEvicted.Inc()
		b.handleUnregister(id)
	}
	return data
}

func (b *Broadcaster) handleStop() {
	total := len(b.clients)
	slog.Info("Broadcaster shutting down", "total_clients", total)
	b.closeAllClients("Server shutting down")
	slog.Info("Broadcaster shutdown complete", "disconnected_clients", total)
}

// closeAllClients closes all client connections with the given reason.
func (b *Broadcaster) closeAllClients(reason string) {
	for id, cw := range b.clients {
		cw.shutdown(reason)
		delete(b.clients, id)
	}
	metrics.BroadcasterConnectedClients.Set(0)
}
