// Package http provides the public HTTP server: WebSocket endpoint,
// dashboard, health checks and the agent/share REST API.
package http

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tejasdessai01/agentwatch-app/internal/auth"
	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/hub"
	"github.com/tejasdessai01/agentwatch-app/internal/registry"
	"github.com/tejasdessai01/agentwatch-app/internal/share"
	"github.com/tejasdessai01/agentwatch-app/web"
)

// Server is the public HTTP server.
type Server struct {
	echo     *echo.Echo
	hub      *hub.Hub
	registry *registry.Registry
	shares   *share.Service
	logger   *slog.Logger
}

// NewServer creates the HTTP server. wsHandler serves GET /ws and performs
// its own authentication before upgrading.
func NewServer(apiKey string, h *hub.Hub, reg *registry.Registry, shares *share.Service, wsHandler echo.HandlerFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:     e,
		hub:      h,
		registry: reg,
		shares:   shares,
		logger:   logger.With("component", "http"),
	}

	// Register routes
	e.GET("/ws", wsHandler)
	e.GET("/health", s.handleHealth)
	e.GET("/status", s.handleStatus)
	e.GET("/", s.handleDashboard)
	e.GET("/share/:share_id", s.handleSharePage)
	e.GET("/api/share/:share_id", s.handleGetShare)

	api := e.Group("/api/agents", keyAuth(apiKey))
	api.GET("", s.handleListAgents)
	api.GET("/:agent_id", s.handleGetAgent)
	api.POST("/:agent_id/share", s.handleCreateShare)

	return s
}

// keyAuth accepts the same credentials as the WebSocket handshake.
func keyAuth(apiKey string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "query:token,header:Authorization:Bearer ,header:" + auth.HeaderAPIKey,
		Validator: func(key string, c echo.Context) (bool, error) {
			return auth.Valid(apiKey, key), nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		},
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"agents":      s.registry.Len(),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"agents": s.registry.Len(),
	})
}

func (s *Server) handleDashboard(c echo.Context) error {
	return s.servePage(c, "index.html")
}

func (s *Server) handleSharePage(c echo.Context) error {
	return s.servePage(c, "share.html")
}

func (s *Server) servePage(c echo.Context, name string) error {
	data, err := fs.ReadFile(web.Assets, name)
	if err != nil {
		s.logger.Error("embedded page missing", "page", name, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.HTMLBlob(http.StatusOK, data)
}

func (s *Server) handleListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": s.registry.SnapshotAll(),
	})
}

func (s *Server) handleGetAgent(c echo.Context) error {
	rec, ok := s.registry.Get(c.Param("agent_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCreateShare(c echo.Context) error {
	link, err := s.shares.Create(c.Request().Context(), c.Param("agent_id"))
	if errors.Is(err, domain.ErrAgentNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	if err != nil {
		s.logger.Error("failed to create share", "agent_id", c.Param("agent_id"), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create share"})
	}
	return c.JSON(http.StatusCreated, link)
}

func (s *Server) handleGetShare(c echo.Context) error {
	snapshot, err := s.shares.Get(c.Request().Context(), c.Param("share_id"))
	switch {
	case errors.Is(err, domain.ErrShareNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "share not found"})
	case errors.Is(err, domain.ErrShareExpired):
		return c.JSON(http.StatusGone, map[string]string{"error": "share expired"})
	case err != nil:
		s.logger.Error("failed to load share", "share_id", c.Param("share_id"), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load share"})
	}
	return c.JSON(http.StatusOK, snapshot)
}
