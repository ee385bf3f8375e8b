// Package hub provides connection management for WebSocket clients.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 256

// Connection represents a single WebSocket connection.
type Connection struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn
	Send       chan []byte
	mu         sync.Mutex
	closeOnce  sync.Once
}

// Hub tracks every active connection. Broadcast always targets all of them.
type Hub struct {
	connections map[string]*Connection
	sendBuffer  int
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewHub creates a new Hub. A sendBuffer <= 0 selects DefaultSendBuffer.
func NewHub(sendBuffer int, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		sendBuffer:  sendBuffer,
		logger:      logger.With("component", "hub"),
	}
}

// NewConnection wraps ws in a connection handle. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	conn := &Connection{
		ID:   "conn_" + uuid.New().String()[:8],
		Conn: ws,
		Send: make(chan []byte, h.sendBuffer),
	}
	if ws != nil {
		conn.RemoteAddr = ws.RemoteAddr().String()
	}
	return conn
}

// Register adds conn to the broadcast set.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID] = conn
	h.logger.Debug("connection registered", "conn_id", conn.ID, "remote", conn.RemoteAddr)
}

// Unregister removes conn and closes its send queue. Safe to call twice.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn.ID]
	if ok {
		delete(h.connections, conn.ID)
	}
	h.mu.Unlock()

	if ok {
		conn.closeOnce.Do(func() { close(conn.Send) })
		h.logger.Debug("connection unregistered", "conn_id", conn.ID)
	}
}

// Broadcast queues data on every connection. Connections whose buffer is
// full are dropped rather than blocking the caller.
func (h *Hub) Broadcast(data []byte) int {
	h.mu.RLock()
	var slow []*Connection
	delivered := 0
	for _, conn := range h.connections {
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.logger.Warn("connection buffer full, closing", "conn_id", conn.ID)
		h.Unregister(conn)
	}
	return delivered
}

// SendToConnection queues data on a single connection without blocking.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrNotRegistered
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// CloseAll unregisters every connection; their write pumps then send a
// close frame and exit.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.Unregister(conn)
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrNotRegistered is returned when sending to a connection the hub no longer tracks.
var ErrNotRegistered = &NotRegisteredError{}

// NotRegisteredError represents a send to an unknown connection.
type NotRegisteredError struct{}

func (e *NotRegisteredError) Error() string {
	return "connection not registered"
}
