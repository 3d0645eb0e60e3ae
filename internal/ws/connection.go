package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/huddle/chat-server/internal/gateway"
)

var (
	// ErrConnectionClosed is returned by Send once the connection is closing.
	ErrConnectionClosed = errors.New("ws: connection closed")

	// ErrSendQueueFull is returned by Send when the outbound queue has no room.
	// The connection is closed because it has missed an event.
	ErrSendQueueFull = errors.New("ws: send queue full")
)

// Connection represents a single WebSocket client connection. Outbound
// frames go through a bounded queue drained by one writer goroutine, so
// Send never blocks the caller.
type Connection struct {
	ID        string   // connection ID (UUID)
	Username  string   // authenticated user
	Conn      net.Conn // underlying TCP connection
	Fd        int      // file descriptor for epoll lookups
	CreatedAt time.Time

	session      atomic.Pointer[gateway.Session]
	server       *Server
	writeTimeout time.Duration
	lastActivity atomic.Int64 // unix nanos of the last frame read
	processing   int32        // atomic flag: 0 = idle, 1 = being read by handleConn
	writeMu      sync.Mutex   // serializes writes to Conn

	mu     sync.Mutex // guards closed and send
	closed bool
	send   chan []byte
	done   chan struct{} // closed when the writer exits
}

func newConnection(id, username string, conn net.Conn, queueSize int, writeTimeout time.Duration) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Connection{
		ID:           id,
		Username:     username,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		send:         make(chan []byte, queueSize),
		done:         make(chan struct{}),
	}
	c.touch()
	return c
}

// Session returns the gateway session bound to this connection.
func (c *Connection) Session() *gateway.Session {
	return c.session.Load()
}

// Send queues a text frame for delivery.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrSendQueueFull
	}
}

// Close stops accepting frames. Frames already queued are still written,
// after which the network connection is closed.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	return nil
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writeLoop drains the outbound queue until it is closed or a write fails.
func (c *Connection) writeLoop() {
	defer close(c.done)

	for data := range c.send {
		if err := c.WriteMessage(data); err != nil {
			c.Close()
			break
		}
	}

	if c.server != nil {
		c.server.RemoveConnection(c)
	} else {
		_ = c.Conn.Close()
	}
}

// WriteMessage writes a WebSocket text frame immediately, bypassing the
// queue.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// writeControl writes a control frame such as ping or pong.
func (c *Connection) writeControl(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, f)
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns when a frame was last read from the client.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes the underlying network
// connection. Returns true if the connection was found and removed, false if
// it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if cm.byFd[conn.Fd] == conn {
			delete(cm.byFd, conn.Fd)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
