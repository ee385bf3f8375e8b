// Package ws provides WebSocket server functionality for client connections.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/tejasdessai01/agentwatch-app/internal/auth"
	"github.com/tejasdessai01/agentwatch-app/internal/config"
	"github.com/tejasdessai01/agentwatch-app/internal/hub"
	"github.com/tejasdessai01/agentwatch-app/internal/relay"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	relay    *relay.Relay
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, r *relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:   cfg,
		hub:   h,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Dashboards are served from arbitrary origins; the API key gates access.
				return true
			},
		},
		logger: logger.With("component", "ws"),
	}
}

// HandleWebSocket authenticates, upgrades and starts the connection pumps.
// Bad credentials are rejected before the upgrade, so no frame is ever sent.
func (s *Server) HandleWebSocket(c echo.Context) error {
	if !auth.Valid(s.cfg.APIKey, auth.TokenFromRequest(c.Request())) {
		s.logger.Warn("websocket rejected", "remote_addr", c.RealIP(), "reason", "unauthorized")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket", "error", err)
		return nil
	}

	conn := s.hub.NewConnection(ws)
	if err := s.relay.Attach(conn); err != nil {
		s.logger.Error("failed to attach connection", "conn_id", conn.ID, "error", err)
		_ = ws.Close()
		return nil
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	s.logger.Info("client connected", "conn_id", conn.ID, "remote_addr", conn.RemoteAddr)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.relay.Detach(conn)
		conn.Close()
		s.logger.Info("client disconnected", "conn_id", conn.ID)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	limiter := s.newLimiter()
	ctx := context.Background()

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "conn_id", conn.ID, "error", err)
			}
			break
		}

		// Throttle rather than drop so events keep their order.
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				s.logger.Warn("inbound rate limiter failed", "conn_id", conn.ID, "error", err)
				break
			}
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		s.relay.HandleMessage(ctx, conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.cfg.RateLimit <= 0 {
		return nil
	}
	burst := s.cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
}
