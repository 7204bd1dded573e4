// Package gateway runs one WebSocket session per remote client against the
// shared status store.
package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmorsell/stage-remote/internal/metrics"
	"github.com/vmorsell/stage-remote/internal/ratelimit"
	"github.com/vmorsell/stage-remote/internal/status"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap"
)

const (
	DefaultSendQueueSize  = 256
	DefaultMaxMessageSize = 64 * 1024
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second

	readBufferSize  = 1024
	writeBufferSize = 1024
)

// Dispatcher is the command sink used for non-envelope messages.
type Dispatcher interface {
	Dispatch(cmd model.Command)
}

type Options struct {
	SendQueueSize  int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

type Gateway struct {
	logger     *zap.Logger
	store      *status.Store
	dispatcher Dispatcher
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	opts       Options
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// New creates a Gateway. limiter and m may be nil.
func New(logger *zap.Logger, store *status.Store, dispatcher Dispatcher, limiter *ratelimit.Limiter, m *metrics.Metrics, opts Options) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		logger:     logger,
		store:      store,
		dispatcher: dispatcher,
		limiter:    limiter,
		metrics:    m,
		opts:       opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     checkOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP upgrades the request and runs the session until the peer goes
// away. Any path is accepted.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	g.sessions.Add(1)
	g.mu.Unlock()
	defer g.sessions.Done()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket handshake failed", zap.String("peer", r.RemoteAddr), zap.Error(err))
		return
	}

	s := newSession(g, conn, r.RemoteAddr)
	s.run(g.ctx)
}

// Close stops every running session and waits for them to finish. Later
// upgrade attempts are refused.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	g.sessions.Wait()
}

// LAN clients load the control page from the HTTP port and connect here from
// a different origin.
func checkOrigin(r *http.Request) bool {
	return true
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
