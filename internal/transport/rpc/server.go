// Package rpc exposes the operator JSON-RPC surface of the relay.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/tejasdessai01/agentwatch-app/internal/auth"
	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/relay"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Relay"

// Server exposes relay RPC endpoints.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
	logger    *slog.Logger
}

// NewServer creates a new relay RPC server.
func NewServer(r *relay.Relay, apiKey string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")

	rpcServer := rpc.NewServer()
	handler := &Handler{relay: r, apiKey: apiKey, logger: logger}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
		logger:    logger,
	}, nil
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the TCP listener without accepting yet.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("rpc server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements relay RPC methods.
type Handler struct {
	relay  *relay.Relay
	apiKey string
	logger *slog.Logger
}

// ListAgentsRequest is the request for Relay.ListAgents.
type ListAgentsRequest struct {
	APIKey string `json:"api_key"`
}

// ListAgentsResponse carries every known record.
type ListAgentsResponse struct {
	Agents map[string]domain.AgentRecord `json:"agents"`
}

// GetAgentRequest is the request for Relay.GetAgent.
type GetAgentRequest struct {
	APIKey  string `json:"api_key"`
	AgentID string `json:"agent_id"`
}

// GetAgentResponse carries one record.
type GetAgentResponse struct {
	Agent domain.AgentRecord `json:"agent"`
}

// KillRequest is the request for Relay.Kill.
type KillRequest struct {
	APIKey   string `json:"api_key"`
	TargetID string `json:"target_id"`
}

// KillResponse acknowledges that the kill signal was broadcast.
type KillResponse struct {
	OK bool `json:"ok"`
}

// ListAgents returns a snapshot of every agent record.
func (h *Handler) ListAgents(req *ListAgentsRequest, resp *ListAgentsResponse) error {
	if err := h.authorize(req.APIKey); err != nil {
		return err
	}
	resp.Agents = h.relay.Registry().SnapshotAll()
	return nil
}

// GetAgent returns one agent record.
func (h *Handler) GetAgent(req *GetAgentRequest, resp *GetAgentResponse) error {
	if err := h.authorize(req.APIKey); err != nil {
		return err
	}
	rec, ok := h.relay.Registry().Get(req.AgentID)
	if !ok {
		return domain.ErrAgentNotFound
	}
	resp.Agent = rec
	return nil
}

// Kill runs the same path as a viewer kill_request.
func (h *Handler) Kill(req *KillRequest, resp *KillResponse) error {
	if err := h.authorize(req.APIKey); err != nil {
		return err
	}
	if err := h.relay.Kill(context.Background(), req.TargetID, "rpc"); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (h *Handler) authorize(key string) error {
	if !auth.Valid(h.apiKey, key) {
		h.logger.Warn("rpc call rejected", "reason", "unauthorized")
		return domain.ErrUnauthorized
	}
	return nil
}
