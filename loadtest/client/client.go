// Package client provides a WebSocket load test client for the DM gateway.
// It connects with gobwas/ws (the same library the server uses), waits for
// the connected greeting, and tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeSendMessage = "sendMessage"
	TypeMarkAsRead  = "markAsRead"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeConnected         = "connected"
	TypeOnlineUsers       = "onlineUsers"
	TypeReceiveMessage    = "receiveMessage"
	TypeMessagesRead      = "messagesRead"
	TypeUserStatusChanged = "userStatusChanged"
	TypeRateLimited       = "rateLimited"
	TypeError             = "error"
	TypePong              = "pong"
)

// Message is the wire form of a delivered direct message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
	Closed           bool
}

// Client is a single simulated user connected to the gateway.
type Client struct {
	conn      net.Conn
	rw        io.ReadWriter // reads through the handshake buffer first
	userID    string
	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	mu       sync.Mutex
	metrics  Metrics
	handlers map[string]func(json.RawMessage)
}

// New dials rawURL with token in the query string. Frames are read in the
// background; use WaitConnected to wait for the session to be admitted.
func New(ctx context.Context, rawURL, token string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:      conn,
		rw:        conn,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		handlers:  make(map[string]func(json.RawMessage)),
	}
	c.metrics.ConnectLatency = time.Since(start)
	if br != nil {
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	go c.readLoop()
	return c, nil
}

// On registers the handler for a server message type, replacing any previous
// one. Handlers run on the read goroutine and should not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Send encodes msg as JSON and writes it as one text frame.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.MessagesSent++
	}
	c.mu.Unlock()
	return err
}

// SendMessage sends content to receiverID.
func (c *Client) SendMessage(receiverID, content string) error {
	return c.Send(map[string]string{
		"type":       TypeSendMessage,
		"receiverId": receiverID,
		"content":    content,
	})
}

// MarkAsRead marks everything received from senderID as read.
func (c *Client) MarkAsRead(senderID string) error {
	return c.Send(map[string]string{
		"type":     TypeMarkAsRead,
		"senderId": senderID,
	})
}

// WaitConnected blocks until the server greets the session or ctx ends.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before it was admitted")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserID returns the id the server admitted the session as.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			c.mu.Lock()
			select {
			case <-c.done:
			default:
				// Dropped by the server rather than closed by us.
				c.metrics.Errors++
				c.metrics.Closed = true
			}
			c.mu.Unlock()
			_ = c.Close()
			return
		}

		var envelope struct {
			Type   string `json:"type"`
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		handler := c.handlers[envelope.Type]
		if envelope.Type == TypeConnected && c.userID == "" {
			c.userID = envelope.UserID
			close(c.connected)
		}
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
