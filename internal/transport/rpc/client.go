package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// Client calls the relay RPC surface. Each call uses its own connection.
type Client struct {
	addr        string
	apiKey      string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient creates a client for addr, which may be host:port or a URL.
func NewClient(addr, apiKey string) *Client {
	return &Client{
		addr:        resolveRPCAddr(addr),
		apiKey:      apiKey,
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
	}
}

// ListAgents returns every known agent record.
func (c *Client) ListAgents(ctx context.Context) (map[string]domain.AgentRecord, error) {
	var resp ListAgentsResponse
	if err := c.call(ctx, ServiceName+".ListAgents", &ListAgentsRequest{APIKey: c.apiKey}, &resp); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if resp.Agents == nil {
		resp.Agents = map[string]domain.AgentRecord{}
	}
	return resp.Agents, nil
}

// GetAgent returns one agent record.
func (c *Client) GetAgent(ctx context.Context, agentID string) (domain.AgentRecord, error) {
	var resp GetAgentResponse
	if err := c.call(ctx, ServiceName+".GetAgent", &GetAgentRequest{APIKey: c.apiKey, AgentID: agentID}, &resp); err != nil {
		return domain.AgentRecord{}, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return resp.Agent, nil
}

// Kill asks the relay to broadcast a kill signal for targetID.
func (c *Client) Kill(ctx context.Context, targetID string) error {
	var resp KillResponse
	if err := c.call(ctx, ServiceName+".Kill", &KillRequest{APIKey: c.apiKey, TargetID: targetID}, &resp); err != nil {
		return fmt.Errorf("kill %s: %w", targetID, err)
	}
	if !resp.OK {
		return fmt.Errorf("kill %s: relay returned ok=false", targetID)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	if c.addr == "" {
		return fmt.Errorf("rpc address is not configured")
	}
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return mapRemoteError(call.Error)
	}
}

// mapRemoteError restores the sentinel errors that net/rpc flattens into
// plain strings.
func mapRemoteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, sentinel := range []error{domain.ErrUnauthorized, domain.ErrAgentNotFound, domain.ErrKillBlocked, domain.ErrMalformedPayload} {
		if strings.Contains(msg, sentinel.Error()) {
			return fmt.Errorf("%s: %w", msg, sentinel)
		}
	}
	return err
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
