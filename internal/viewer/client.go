// Package viewer is the dashboard-side client of the relay. It keeps a
// local copy of every agent record and can request kills.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

// Config configures a viewer connection.
type Config struct {
	ServerURL string
	APIKey    string
	Logger    *slog.Logger
}

// Client represents a viewer connection.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]domain.AgentRecord

	writeMu sync.Mutex
	events  chan protocol.Outbound
	done    chan struct{}
	once    sync.Once
}

// Dial connects, authenticates and waits for the initial state. A rejected
// key returns domain.ErrUnauthorized.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", cfg.ServerURL, domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		logger: logger.With("component", "viewer"),
		agents: make(map[string]domain.AgentRecord),
		events: make(chan protocol.Outbound, eventBuffer),
		done:   make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	first, err := c.readOne()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read initial state: %w", err)
	}
	if _, ok := first.(*protocol.InitialStateMessage); !ok {
		conn.Close()
		return nil, fmt.Errorf("expected initial_state, got %T", first)
	}
	_ = conn.SetReadDeadline(time.Time{})

	go c.readLoop()
	return c, nil
}

// Agents returns a copy of the current view.
func (c *Client) Agents() map[string]domain.AgentRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.AgentRecord, len(c.agents))
	for id, rec := range c.agents {
		out[id] = rec.Clone()
	}
	return out
}

// Events delivers every server message after the initial state. It is
// closed when the connection ends. Events are dropped if the channel is
// not drained; Agents() stays accurate regardless.
func (c *Client) Events() <-chan protocol.Outbound {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Kill sends a kill_request for targetID.
func (c *Client) Kill(targetID string) error {
	if targetID == "" {
		return fmt.Errorf("%w: target_id is required", domain.ErrMalformedPayload)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(protocol.NewKillRequest(targetID)); err != nil {
		return fmt.Errorf("write kill_request: %w", err)
	}
	return nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		c.once.Do(func() { close(c.done) })
	}()

	for {
		msg, err := c.readOne()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
				c.logger.Debug("viewer read ended", "error", err)
			}
			return
		}
		select {
		case c.events <- msg:
		default:
			c.logger.Debug("viewer event dropped", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// readOne reads frames until a decodable one arrives and applies it to the
// local view.
func (c *Client) readOne() (protocol.Outbound, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			c.logger.Debug("undecodable server frame", "error", err)
			continue
		}
		c.apply(msg)
		return msg, nil
	}
}

func (c *Client) apply(msg protocol.Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m := msg.(type) {
	case *protocol.InitialStateMessage:
		c.agents = make(map[string]domain.AgentRecord, len(m.Agents))
		for id, rec := range m.Agents {
			c.agents[id] = rec
		}
	case *protocol.RecordUpdatedMessage:
		c.agents[m.Agent.ID] = m.Agent
	}
}
