package channel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/pkg/models"
)

const wsMaxPayloadBytes = 1 << 20

// Handler receives decoded client frames. Implementations append to the
// session and signal the supervisor; losing the connection afterwards never
// affects the session.
type Handler interface {
	HandleUserInput(ctx context.Context, sessionID, instruction string, attachments []models.Attachment) error
	HandleInterrupt(ctx context.Context, sessionID string) error
}

// Config holds the transport timings.
type Config struct {
	// HeartbeatInterval is the ping cadence.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the read deadline; a connection with no pong or
	// frame inside it is considered dead.
	HeartbeatTimeout time.Duration
}

// Server attaches WebSocket connections to the event hub.
type Server struct {
	hub     *Hub
	handler Handler
	cfg     Config
	logger  *observability.Logger
}

// NewServer creates a channel server.
func NewServer(hub *Hub, handler Handler, cfg Config, logger *observability.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	return &Server{hub: hub, handler: handler, cfg: cfg, logger: logger}
}

// Serve runs one client connection until it drops. The caller owns the
// upgrade and authentication.
func (s *Server) Serve(ctx context.Context, conn *websocket.Conn, sessionID string) {
	c := &wsConn{
		server:    s,
		conn:      conn,
		sessionID: sessionID,
		sub:       s.hub.Subscribe(sessionID),
		done:      make(chan struct{}),
	}
	defer c.close()

	go c.writeLoop()
	c.readLoop(ctx)
}

type wsConn struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	sub       *Subscriber
	done      chan struct{}
}

func (c *wsConn) close() {
	close(c.done)
	c.server.hub.Unsubscribe(c.sub)
	_ = c.conn.Close()
}

func (c *wsConn) readLoop(ctx context.Context) {
	timeout := c.server.cfg.HeartbeatTimeout
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.server.logWarn(ctx, c.sessionID, "invalid frame", err)
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *wsConn) dispatch(ctx context.Context, frame InboundFrame) {
	var err error
	switch frame.Type {
	case InboundUserInput:
		err = c.server.handler.HandleUserInput(ctx, c.sessionID, frame.Instruction, frame.Attachments)
	case InboundInterrupt:
		err = c.server.handler.HandleInterrupt(ctx, c.sessionID)
	default:
		c.server.logWarn(ctx, c.sessionID, "unknown frame type "+string(frame.Type), nil)
		return
	}
	if err != nil {
		// The failure is reported on the stream; the connection stays up.
		c.server.hub.Publish(c.sessionID, Event{
			Type:    EventError,
			Kind:    "frame_rejected",
			Message: err.Error(),
		})
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.server.cfg.HeartbeatInterval)
	defer ticker.Stop()

	writeWait := c.server.cfg.HeartbeatTimeout
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.sub.C:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) logWarn(ctx context.Context, sessionID, msg string, err error) {
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Warn(ctx, msg, "session_id", sessionID, "error", err)
		return
	}
	s.logger.Warn(ctx, msg, "session_id", sessionID)
}
