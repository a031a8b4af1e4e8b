package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	// ErrConnectionClosed is returned by Send once the connection is closed.
	ErrConnectionClosed = errors.New("ws: connection closed")

	// ErrSendQueueFull is returned by Send when the client is not draining
	// its outbound queue. The connection is closed.
	ErrSendQueueFull = errors.New("ws: send queue full")
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	// StateUnauthenticated is an upgraded socket whose user has not yet been
	// registered. Client requests are rejected.
	StateUnauthenticated State = iota
	// StateRegistered is a connection bound to its user in the registry.
	StateRegistered
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection represents a single WebSocket client connection. Outbound frames
// are queued and written by a dedicated goroutine, so Send never blocks on the
// network.
type Connection struct {
	ID        string    // per-socket id (UUID)
	UserID    string    // authenticated user
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established

	state    atomic.Int32
	lastSeen atomic.Int64 // unix nanos of the last frame read

	out          chan []byte
	done         chan struct{}
	writeMu      sync.Mutex // serializes writes to Conn
	writeTimeout time.Duration

	detach   func(*Connection) // unhooks from poller and manager, before Conn is closed
	onClosed func(*Connection) // after Conn is closed
}

func newConnection(id, userID string, conn net.Conn, queueSize int, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		UserID:       userID,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.touch()
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// MarkRegistered moves an unauthenticated connection to registered. It
// returns false if the connection was closed meanwhile.
func (c *Connection) MarkRegistered() bool {
	return c.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateRegistered))
}

// LastSeen returns when the last frame was read from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// Send queues a text frame for delivery. It does not block: a client that
// lets its queue fill up is disconnected.
func (c *Connection) Send(data []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		// Close runs disconnect hooks; never run them on the sender's stack.
		go c.Close()
		return ErrSendQueueFull
	}
}

// Close closes the connection and runs the detach and close hooks once. It
// is idempotent and safe for concurrent use.
func (c *Connection) Close() error {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	close(c.done)
	if c.detach != nil {
		c.detach(c)
	}
	err := c.Conn.Close()
	if c.onClosed != nil {
		c.onClosed(c)
	}
	return err
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// writeLoop drains the outbound queue until the connection closes.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := c.writeFrame(ws.OpText, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

// writeFrame writes one frame under the write mutex and deadline.
func (c *Connection) writeFrame(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, op, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	return c.writeFrame(ws.OpPing, nil)
}

// ConnectionManager is a thread-safe index of open connections by id and by
// file descriptor.
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

// Add indexes a new connection.
func (cm *ConnectionManager) Add(c *Connection) {
	cm.mu.Lock()
	cm.byID[c.ID] = c
	if c.Fd >= 0 {
		cm.byFd[c.Fd] = c
	}
	cm.mu.Unlock()
}

// Remove drops a connection from the index. It returns false if it was
// already gone. The connection itself is not closed.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.byID[id]
	if !ok {
		return false
	}
	delete(cm.byID, id)
	if cur, ok := cm.byFd[c.Fd]; ok && cur == c {
		delete(cm.byFd, c.Fd)
	}
	return true
}

// Get returns the connection with the given id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byFd[fd]
}

// Count returns the current number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of all open connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	return conns
}
