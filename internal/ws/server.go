// Package ws handles WebSocket connection management: authenticating and
// upgrading HTTP requests, tracking open connections, reading client frames
// through epoll and a bounded worker pool, and dispatching them to handlers.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/identity"
	"github.com/whisper/dm-gateway/internal/metrics"
)

var errMessageTooLarge = errors.New("ws: message exceeds size limit")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	WorkerPoolSize    int           // max concurrent read-worker goroutines
	MaxConnections    int           // hard cap on total connections
	ReadTimeout       time.Duration // timeout for reading a frame once data is ready
	WriteTimeout      time.Duration // timeout for WebSocket write operations
	OutboundQueueSize int           // per-connection queued frames before disconnect
	MaxMessageSize    int64         // largest accepted client message in bytes
	Heartbeat         HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":8080",
		WorkerPoolSize:    256,
		MaxConnections:    100000,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		OutboundQueueSize: 256,
		MaxMessageSize:    16 << 10,
		Heartbeat:         DefaultHeartbeatConfig(),
	}
}

// Handler receives every complete client data message. Calls for one
// connection never overlap.
type Handler func(c *Connection, data []byte)

// Server is the WebSocket server built on gobwas/ws. On Linux, connections are
// registered with epoll and ready ones are read by a bounded worker pool;
// elsewhere each connection gets its own read goroutine.
type Server struct {
	config ServerConfig
	auth   identity.Authenticator
	log    *zap.Logger

	conns      *ConnectionManager
	poll       *epoll
	workerPool chan struct{} // semaphore limiting concurrent read workers

	onMessage    Handler
	onConnect    func(c *Connection)
	onDisconnect func(c *Connection)

	httpHandler http.Handler
	httpServer  *http.Server

	runOnce   sync.Once
	closeOnce sync.Once
	done      chan struct{}
	startedAt time.Time
}

// NewServer creates a Server that admits clients authenticated by auth and
// passes their messages to onMessage.
func NewServer(config ServerConfig, auth identity.Authenticator, onMessage Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.OutboundQueueSize <= 0 {
		config.OutboundQueueSize = 1
	}
	return &Server{
		config:     config,
		auth:       auth,
		log:        log.Named("ws"),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked for every admitted connection
// before any of its frames are read.
func (s *Server) SetOnConnect(fn func(c *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked once per connection after it
// has been closed, whatever the cause.
func (s *Server) SetOnDisconnect(fn func(c *Connection)) {
	s.onDisconnect = fn
}

// SetHandler sets the HTTP handler served by Start. It defaults to a mux
// with only /ws.
func (s *Server) SetHandler(h http.Handler) {
	s.httpHandler = h
}

// Run starts the read event loop and the heartbeat monitor. It is called by
// Start, and directly when the server is mounted on an external listener.
func (s *Server) Run() error {
	var err error
	s.runOnce.Do(func() {
		s.startedAt = time.Now()
		if err = s.openPoller(); err != nil {
			err = fmt.Errorf("ws: failed to create poller: %w", err)
			return
		}
		go s.eventLoop()
		StartHeartbeat(s, s.config.Heartbeat)
	})
	return err
}

// Start runs the server and blocks serving HTTP on ListenAddr until Shutdown.
func (s *Server) Start() error {
	if err := s.Run(); err != nil {
		return err
	}

	handler := s.httpHandler
	if handler == nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.HandleUpgrade)
		handler = mux
	}
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("server listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// HandleUpgrade authenticates the request, upgrades it to a WebSocket and
// admits the connection. Requests without valid credentials get 401 and are
// never upgraded.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	userID, err := s.auth.Authenticate(r.Context(), identity.BearerToken(r))
	if err != nil {
		metrics.AuthFailures.Inc()
		s.log.Debug("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), userID, conn, s.config.OutboundQueueSize, s.config.WriteTimeout)
	c.detach = s.detach
	c.onClosed = s.closed

	s.conns.Add(c)
	metrics.ConnectionsActive.Inc()
	go c.writeLoop()

	s.log.Debug("connection opened",
		zap.String("conn_id", c.ID),
		zap.String("user_id", userID),
		zap.Int("total", s.conns.Count()))

	if s.onConnect != nil {
		s.onConnect(c)
	}
	if c.State() == StateClosed {
		return
	}
	if err := s.watch(c); err != nil {
		s.log.Error("watch connection", zap.String("conn_id", c.ID), zap.Error(err))
		c.Close()
	}
}

// serveFrame reads and handles one client message. It returns false once the
// connection has been closed.
func (s *Server) serveFrame(c *Connection, deadline bool) bool {
	if deadline && s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	data, err := s.readFrame(c)
	if deadline {
		_ = c.Conn.SetReadDeadline(time.Time{})
	}
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("read failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
		c.Close()
		return false
	}
	if len(data) > 0 && s.onMessage != nil {
		s.onMessage(c, data)
	}
	return c.State() != StateClosed
}

// readFrame reads the next message from c. Control frames are answered here
// and yield nil data. A close frame yields io.EOF.
func (s *Server) readFrame(c *Connection) ([]byte, error) {
	header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
	if err != nil {
		return nil, err
	}

	// Any frame proves the connection is alive.
	c.touch()

	if header.OpCode.IsControl() {
		payload, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		switch header.OpCode {
		case ws.OpClose:
			return nil, io.EOF
		case ws.OpPing:
			return nil, c.writeFrame(ws.OpPong, payload)
		}
		return nil, nil
	}

	limit := s.config.MaxMessageSize
	if limit <= 0 {
		limit = DefaultServerConfig().MaxMessageSize
	}
	data, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errMessageTooLarge
	}
	return data, nil
}

// detach unhooks c from the poller and the manager. It runs before the socket
// is closed so a reused fd cannot be confused with c.
func (s *Server) detach(c *Connection) {
	s.unwatch(c)
	s.conns.Remove(c.ID)
}

func (s *Server) closed(c *Connection) {
	metrics.ConnectionsActive.Dec()
	s.log.Debug("connection closed",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Int("total", s.conns.Count()))
	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
}

// RemoveConnection closes c. It is exported so that the heartbeat monitor
// and the session layer can evict connections.
func (s *Server) RemoveConnection(c *Connection) {
	c.Close()
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	return s.conns.Count()
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown stops accepting connections, closes every open connection and
// releases the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.log.Info("shutting down server")
		close(s.done)

		if s.httpServer != nil {
			if herr := s.httpServer.Shutdown(ctx); herr != nil {
				err = fmt.Errorf("ws: http shutdown: %w", herr)
			}
		}

		for _, c := range s.conns.All() {
			c.Close()
		}
		s.closePoller()
		s.log.Info("server stopped, all connections closed")
	})
	return err
}
