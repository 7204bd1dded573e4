package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmorsell/stage-remote/internal/metrics"
	"github.com/vmorsell/stage-remote/internal/status"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap"
)

type frame struct {
	messageType int
	data        []byte
}

// session is a single client connection. Only the goroutine that owns the
// connection at a given time writes to it: run writes the initial snapshot,
// then writePump takes over.
type session struct {
	id     string
	peer   string
	conn   *websocket.Conn
	gw     *Gateway
	logger *zap.Logger
	send   chan frame

	browserHost bool
}

func newSession(g *Gateway, conn *websocket.Conn, peer string) *session {
	id := uuid.NewString()
	return &session{
		id:     id,
		peer:   peer,
		conn:   conn,
		gw:     g,
		logger: g.logger.With(zap.String("sessionID", id), zap.String("peer", peer)),
		send:   make(chan frame, g.opts.SendQueueSize),
	}
}

func (s *session) run(ctx context.Context) {
	snapshot, sub := s.gw.store.Attach()
	s.gw.metrics.SessionOpened()
	s.logger.Info("remote connected", zap.Int("clients", snapshot.ConnectedClients))

	defer func() {
		s.gw.store.Detach(sub)
		s.logger.Info("remote disconnected",
			zap.Bool("browserHost", s.browserHost),
			zap.Int("clients", s.gw.store.Read().ConnectedClients))
	}()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to marshal initial status", zap.Error(err))
		s.conn.Close()
		return
	}
	if err := s.write(websocket.TextMessage, payload); err != nil {
		s.logger.Warn("failed to send initial status", zap.Error(err))
		s.conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, sub)
	}()

	s.readPump()

	cancel()
	<-writerDone
}

func (s *session) readPump() {
	s.conn.SetReadLimit(s.gw.opts.MaxMessageSize)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
	s.conn.SetPingHandler(func(data string) error {
		s.extendReadDeadline()
		s.enqueue(frame{messageType: websocket.PongMessage, data: []byte(data)})
		return nil
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			} else {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleText(data)
	}
}

func (s *session) handleText(data []byte) {
	s.logger.Debug("received message", zap.ByteString("raw", data))

	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("failed to parse message", zap.Error(err), zap.ByteString("raw", data))
		return
	}

	switch env.Type {
	case model.MessageTypeBrowserRegister:
		s.browserHost = true
		s.logger.Info("browser host registered")
		return
	case model.MessageTypeStatusSync:
		if len(env.Status) == 0 {
			s.logger.Warn("status-sync without status, dropping")
			return
		}
		st, err := model.ParseStatus(env.Status)
		if err != nil {
			s.logger.Warn("invalid status-sync, dropping", zap.Error(err), zap.ByteString("raw", data))
			return
		}
		s.gw.store.Replace(st)
		return
	}

	var cmd model.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.logger.Warn("failed to parse command", zap.Error(err), zap.ByteString("raw", data))
		return
	}

	if !s.gw.limiter.Allow(peerHost(s.peer)) {
		s.gw.metrics.Command(string(cmd.Type), metrics.OutcomeRateLimited)
		s.logger.Warn("rate limit exceeded, dropping command", zap.String("command", string(cmd.Type)))
		return
	}

	s.gw.dispatcher.Dispatch(cmd)

	payload, err := json.Marshal(s.gw.store.Read())
	if err != nil {
		s.logger.Error("failed to marshal status feedback", zap.Error(err))
		return
	}
	s.enqueue(frame{messageType: websocket.TextMessage, data: payload})
}

// writePump merges the direct queue and the broadcast subscription into the
// connection. It closes the connection when it returns so a blocked reader
// wakes up.
func (s *session) writePump(ctx context.Context, sub *status.Subscription) {
	ticker := time.NewTicker(s.gw.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case f := <-s.send:
			if err := s.write(f.messageType, f.data); err != nil {
				s.logger.Warn("failed to send message", zap.Error(err))
				return
			}

		case payload := <-sub.C():
			if skipped := sub.TakeLagged(); skipped > 0 {
				s.logger.Warn("session lagged behind broadcasts", zap.Uint64("skipped", skipped))
			}
			if err := s.write(websocket.TextMessage, payload); err != nil {
				s.logger.Warn("failed to push broadcast", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (s *session) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.gw.opts.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// enqueue never blocks the reader; a full queue drops the frame.
func (s *session) enqueue(f frame) {
	select {
	case s.send <- f:
	default:
		s.logger.Warn("send queue full, dropping message")
	}
}

func (s *session) extendReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.gw.opts.PongWait))
}
