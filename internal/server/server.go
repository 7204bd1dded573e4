// Package server wires the status store into the WebSocket gateway and the
// HTTP control surface and runs both listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vmorsell/stage-remote/internal/config"
	"github.com/vmorsell/stage-remote/internal/dispatch"
	"github.com/vmorsell/stage-remote/internal/gateway"
	"github.com/vmorsell/stage-remote/internal/httpapi"
	"github.com/vmorsell/stage-remote/internal/metrics"
	"github.com/vmorsell/stage-remote/internal/ratelimit"
	"github.com/vmorsell/stage-remote/internal/status"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap"
)

const readHeaderTimeout = 10 * time.Second

// ErrNotRunning is returned by PushStatus before Start or after Shutdown.
var ErrNotRunning = errors.New("remote server is not running")

// Info describes a running server.
type Info struct {
	Running       bool   `json:"is_running"`
	Port          int    `json:"port"`
	WSPort        int    `json:"ws_port"`
	ConnectionURL string `json:"connection_url"`
}

type Server struct {
	logger  *zap.Logger
	cfg     config.Config
	emitter dispatch.Emitter

	mu      sync.Mutex
	running bool
	info    Info
	store   *status.Store
	gateway *gateway.Gateway
	httpSrv *http.Server
	wsSrv   *http.Server
	serving *sync.WaitGroup
}

// New creates a stopped server. emitter receives command events and
// remote-server-error reports for the host application.
func New(logger *zap.Logger, cfg config.Config, emitter dispatch.Emitter) *Server {
	return &Server{
		logger:  logger,
		cfg:     cfg,
		emitter: emitter,
	}
}

// Start binds both listeners and serves them in the background. A bind
// failure only disables the affected service; the failures are joined into
// the returned error and emitted as remote-server-error events. Calling Start
// while running returns the current Info.
func (s *Server) Start(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Info("remote server already running", zap.String("url", s.info.ConnectionURL))
		return s.info, nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store := status.NewStore(s.logger.Named("status"),
		status.WithBroadcastCapacity(s.cfg.Gateway.BroadcastCapacity),
		status.WithMetrics(m))
	limiter := ratelimit.New(s.cfg.Commands.RateLimit, s.cfg.Commands.RateWindow)
	dispatcher := dispatch.NewDispatcher(s.logger.Named("dispatch"), s.emitter, m)

	gw := gateway.New(s.logger.Named("gateway"), store, dispatcher, limiter, m, gateway.Options{
		SendQueueSize:  s.cfg.Gateway.SendQueueSize,
		MaxMessageSize: s.cfg.Gateway.MaxMessageSize,
		WriteWait:      s.cfg.Gateway.WriteWait,
		PongWait:       s.cfg.Gateway.PongWait,
	})
	api := httpapi.NewAPI(s.logger.Named("http"), store, dispatcher, limiter, m)
	router := httpapi.SetupRouter(s.logger.Named("http"), api, registry)

	var errs []error
	info := Info{}
	serving := &sync.WaitGroup{}

	httpLn, err := listen(ctx, s.cfg.Server.Host, s.cfg.Server.Port)
	if err != nil {
		err = fmt.Errorf("bind HTTP server to port %d: %w", s.cfg.Server.Port, err)
		s.reportError("HTTP", err)
		errs = append(errs, err)
	} else {
		s.httpSrv = &http.Server{Handler: router, ReadHeaderTimeout: readHeaderTimeout}
		info.Port = listenerPort(httpLn)
		serve(serving, s.reportError, "HTTP", s.httpSrv, httpLn)
		s.logger.Info("HTTP control surface listening", zap.Int("port", info.Port))
	}

	wsPort := s.cfg.Server.WebSocketPort()
	wsLn, err := listen(ctx, s.cfg.Server.Host, wsPort)
	if err != nil {
		err = fmt.Errorf("bind WebSocket server to port %d: %w", wsPort, err)
		s.reportError("WebSocket", err)
		errs = append(errs, err)
	} else {
		s.wsSrv = &http.Server{Handler: gw, ReadHeaderTimeout: readHeaderTimeout}
		info.WSPort = listenerPort(wsLn)
		serve(serving, s.reportError, "WebSocket", s.wsSrv, wsLn)
		s.logger.Info("WebSocket gateway listening", zap.Int("port", info.WSPort))
	}

	if httpLn == nil && wsLn == nil {
		s.httpSrv, s.wsSrv = nil, nil
		gw.Close()
		return Info{}, errors.Join(errs...)
	}

	info.Running = true
	info.ConnectionURL = connectionURL(s.cfg.Server.Host, info.Port)

	s.running = true
	s.info = info
	s.store = store
	s.gateway = gw
	s.serving = serving

	s.logger.Info("remote control servers started", zap.String("url", info.ConnectionURL))
	return info, errors.Join(errs...)
}

// PushStatus replaces the shared status on behalf of the host application and
// broadcasts it to every connected client.
func (s *Server) PushStatus(st model.Status) error {
	s.mu.Lock()
	store := s.store
	running := s.running
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	store.Replace(st)
	return nil
}

// Status returns the current snapshot.
func (s *Server) Status() (model.Status, error) {
	s.mu.Lock()
	store := s.store
	running := s.running
	s.mu.Unlock()

	if !running {
		return model.Status{}, ErrNotRunning
	}
	return store.Read(), nil
}

func (s *Server) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Shutdown stops accepting connections, ends open sessions and waits for the
// listeners to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.info = Info{}
	httpSrv, wsSrv, gw, serving := s.httpSrv, s.wsSrv, s.gateway, s.serving
	s.httpSrv, s.wsSrv, s.gateway, s.store, s.serving = nil, nil, nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown HTTP server: %w", err))
		}
	}
	if wsSrv != nil {
		if err := wsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown WebSocket server: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		gw.Close()
		serving.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for sessions: %w", ctx.Err()))
	}

	s.logger.Info("remote control servers stopped")
	return errors.Join(errs...)
}

// serve runs srv on ln in the background, tracked by the run's WaitGroup.
func serve(wg *sync.WaitGroup, report func(string, error), name string, srv *http.Server, ln net.Listener) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			report(name, err)
		}
	}()
}

func (s *Server) reportError(name string, err error) {
	s.logger.Error("remote server error", zap.String("service", name), zap.Error(err))
	if emitErr := s.emitter.Emit(model.EventServerError, fmt.Sprintf("%s error: %v", name, err)); emitErr != nil {
		s.logger.Warn("failed to report server error to host", zap.Error(emitErr))
	}
}

func listen(ctx context.Context, host string, port int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
