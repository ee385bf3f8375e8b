// Package reporter is the agent-side SDK for the AgentWatch relay. A Client
// registers the agent, streams logs, metrics and status changes, and obeys
// kill signals addressed to it by terminating the process.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
)

// Status values the dashboard renders specially. Other strings pass through.
const (
	StatusIdle    = "idle"
	StatusWorking = "working"
	StatusError   = "error"
	StatusKilled  = "killed"
	StatusSuccess = "success"
)

// KillMessage is the final log line reported before exiting on a kill signal.
const KillMessage = "shutdown command executed"

const (
	defaultBufferSize = 256
	writeTimeout      = 10 * time.Second
	readTimeout       = 90 * time.Second
	killFlushWait     = 500 * time.Millisecond
	killExitCode      = 1
)

var (
	// ErrUnauthorized is returned when the relay rejects the API key.
	ErrUnauthorized = domain.ErrUnauthorized
	// ErrForbidden is returned when the relay refuses the handshake with 403.
	ErrForbidden = errors.New("relay forbade connection")
	// ErrQueueFull is returned when the outbound buffer is full. The event is dropped.
	ErrQueueFull = errors.New("reporter queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("reporter closed")
)

// Config configures a reporter.
type Config struct {
	ServerURL     string // ws(s):// or http(s):// relay URL; "/ws" is assumed when no path is given
	APIKey        string
	AgentID       string // generated as agent-<8 hex> when empty
	Name          string
	InitialStatus string
	Retry         *RetryPolicy
	BufferSize    int // outbound events held while disconnected
	Logger        *slog.Logger
}

// Client reports one agent to the relay.
type Client struct {
	cfg    Config
	url    string
	logger *slog.Logger
	dialer *websocket.Dialer

	queue chan []byte

	mu      sync.Mutex // guards closed, started, cancel
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	exit      func(code int)
	flushWait time.Duration
	killed    atomic.Bool
}

// New validates cfg and creates a reporter. Nothing is dialed until Start.
func New(cfg Config) (*Client, error) {
	u, err := normalizeURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "agent-" + uuid.New().String()[:8]
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:       cfg,
		url:       u,
		logger:    logger.With("component", "reporter", "agent_id", cfg.AgentID),
		dialer:    websocket.DefaultDialer,
		queue:     make(chan []byte, cfg.BufferSize),
		done:      make(chan struct{}),
		exit:      os.Exit,
		flushWait: killFlushWait,
	}, nil
}

// ID returns the agent id used on the wire.
func (c *Client) ID() string {
	return c.cfg.AgentID
}

// Done is closed once the supervisor has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Start dials the relay and keeps the connection alive in the background.
// A rejected key is returned as ErrUnauthorized (or ErrForbidden on 403) and
// never retried; other dial failures are retried by the supervisor.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("reporter already started")
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil && !isRetryable(err) {
		cancel()
		close(c.done)
		return err
	}
	if err != nil {
		c.logger.Warn("initial dial failed, retrying in background", "error", err)
	}

	go c.supervise(ctx, conn)
	return nil
}

// Log reports a log line, optionally changing status.
func (c *Client) Log(message, status string) error {
	msg := protocol.NewReport(c.cfg.AgentID)
	msg.Message = &message
	msg.Status = status
	return c.enqueue(msg)
}

// Metric reports a single metric. cost, tokens and revenue accumulate on
// the relay; other keys overwrite.
func (c *Client) Metric(key string, value any) error {
	msg := protocol.NewReport(c.cfg.AgentID)
	msg.Metrics = map[string]any{key: value}
	return c.enqueue(msg)
}

// Status reports a status change.
func (c *Client) Status(status string) error {
	msg := protocol.NewReport(c.cfg.AgentID)
	msg.Status = status
	return c.enqueue(msg)
}

// Tokens adds token usage and its cost in one report.
func (c *Client) Tokens(count int, costUSD float64) error {
	msg := protocol.NewReport(c.cfg.AgentID)
	msg.Metrics = map[string]any{
		domain.MetricTokens: count,
		domain.MetricCost:   costUSD,
	}
	return c.enqueue(msg)
}

// Progress reports completion percentage, clamped to 0..100.
func (c *Client) Progress(percent float64) error {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return c.Metric(domain.MetricProgress, percent)
}

// End reports the final status, success when status is empty.
func (c *Client) End(status string) error {
	if status == "" {
		status = StatusSuccess
	}
	return c.Status(status)
}

// Fail reports err as a log line and moves the agent to error.
func (c *Client) Fail(err error) error {
	text := "unknown error"
	if err != nil {
		text = err.Error()
	}
	return c.Log("Error: "+text, StatusError)
}

// Close stops the supervisor, flushing what it can, and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-c.done
	return nil
}

func (c *Client) enqueue(msg protocol.Inbound) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	select {
	case c.queue <- data:
		return nil
	default:
		c.logger.Warn("outbound queue full, dropping event")
		return ErrQueueFull
	}
}

func (c *Client) supervise(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		if conn == nil {
			var err error
			conn, err = c.reconnect(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Error("giving up on relay connection", "error", err)
				}
				c.mu.Lock()
				c.closed = true
				cancel := c.cancel
				c.mu.Unlock()
				cancel()
				return
			}
		}
		c.runSession(ctx, conn)
		conn = nil
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("connection lost, reconnecting")
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	policy := c.cfg.Retry
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.NextDelay(attempt)):
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return nil, err
		}
		c.logger.Debug("dial failed", "attempt", attempt, "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("dial %s: %w", c.url, ErrUnauthorized)
			case http.StatusForbidden:
				return nil, fmt.Errorf("dial %s: %w", c.url, ErrForbidden)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

// runSession registers, then pumps queued events until the connection or
// ctx ends.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	register, err := json.Marshal(protocol.NewRegister(c.cfg.AgentID, c.cfg.Name, domain.AgentStatus(c.cfg.InitialStatus)))
	if err != nil {
		c.logger.Error("failed to marshal register", "error", err)
		return
	}
	if err := c.write(conn, register); err != nil {
		c.logger.Warn("failed to register", "error", err)
		return
	}
	c.logger.Info("registered with relay", "url", c.url)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readLoop(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			c.flush(conn)
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
			<-readDone
			return
		case <-readDone:
			return
		case data := <-c.queue:
			if err := c.write(conn, data); err != nil {
				c.logger.Warn("failed to send event", "error", err)
				conn.Close()
				<-readDone
				return
			}
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (c *Client) flush(conn *websocket.Conn) {
	for {
		select {
		case data := <-c.queue:
			if err := c.write(conn, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			continue
		}
		if sig, ok := msg.(*protocol.KillSignalMessage); ok && sig.TargetID == c.cfg.AgentID {
			c.handleKill(conn)
			return
		}
	}
}

// handleKill sends the final report and exits the process. It does not
// return control to the host program in production.
func (c *Client) handleKill(conn *websocket.Conn) {
	if !c.killed.CompareAndSwap(false, true) {
		return
	}
	c.logger.Warn("kill signal received, shutting down")

	final := protocol.NewReport(c.cfg.AgentID)
	message := KillMessage
	final.Message = &message
	final.Status = StatusKilled
	if data, err := json.Marshal(final); err == nil {
		if err := c.write(conn, data); err != nil {
			c.logger.Warn("failed to send final report", "error", err)
		}
	}
	time.Sleep(c.flushWait)

	c.exit(killExitCode)

	// Only reached when exit is stubbed.
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func normalizeURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("reporter: server URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("reporter: invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("reporter: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
