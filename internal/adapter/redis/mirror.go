package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ViewKey     = "matlab-proxy:overlay:view"
	ViewChannel = "matlab-proxy:overlay:views"

	writeTimeout = 2 * time.Second
)

// ErrNoView is returned when no view has been mirrored yet.
var ErrNoView = errors.New("no overlay view mirrored")

// Mirror copies every published view into Redis: the latest view under
// ViewKey and a change notification on ViewChannel. Writes happen on a
// background goroutine; when Redis falls behind only the newest pending view
// is written.
type Mirror struct {
	rdb     *goredis.Client
	write   func(ctx context.Context, data []byte) error
	pending chan domain.View

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ domain.ViewPublisher = (*Mirror)(nil)

// NewMirror starts the mirror's writer goroutine.
func NewMirror(rdb *goredis.Client) *Mirror {
	return newMirror(rdb, nil)
}

func newMirror(rdb *goredis.Client, write func(ctx context.Context, data []byte) error) *Mirror {
	m := &Mirror{
		rdb:     rdb,
		write:   write,
		pending: make(chan domain.View, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if m.write == nil {
		m.write = m.writeRedis
	}
	go m.run()
	return m
}

// PublishView queues view for mirroring, replacing any view not yet written.
// It never blocks on Redis.
func (m *Mirror) PublishView(_ context.Context, view domain.View) error {
	for {
		select {
		case m.pending <- view:
			return nil
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

// LatestView reads the most recently mirrored view. While the Redis breaker
// is open the read is answered from the value this process last wrote.
func (m *Mirror) LatestView(ctx context.Context) (domain.View, error) {
	data, err := m.rdb.Get(ctx, ViewKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.View{}, ErrNoView
	}
	if err != nil {
		return domain.View{}, fmt.Errorf("read mirrored view: %w", err)
	}

	var view domain.View
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.View{}, fmt.Errorf("decode mirrored view: %w", err)
	}
	return view, nil
}

// Close stops the writer after flushing the pending view.
func (m *Mirror) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case view := <-m.pending:
			m.mirror(view)
		case <-m.stop:
			select {
			case view := <-m.pending:
				m.mirror(view)
			default:
			}
			return
		}
	}
}

func (m *Mirror) mirror(view domain.View) {
	data, err := json.Marshal(view)
	if err != nil {
		slog.Error("Failed to encode overlay view", "revision", view.Revision, "error", err)
		metrics.ViewMirrorFailuresTotal.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := m.write(ctx, data); err != nil {
		slog.Warn("Failed to mirror overlay view", "revision", view.Revision, "error", err)
		metrics.ViewMirrorFailuresTotal.Inc()
	}
}

func (m *Mirror) writeRedis(ctx context.Context, data []byte) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, ViewKey, data, 0)
		pipe.Publish(ctx, ViewChannel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror view: %w", err)
	}
	return nil
}
