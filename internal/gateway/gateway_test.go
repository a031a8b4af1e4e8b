package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gobwas "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/chat"
	"github.com/whisper/dm-gateway/internal/gateway"
	"github.com/whisper/dm-gateway/internal/identity"
	"github.com/whisper/dm-gateway/internal/presence"
	"github.com/whisper/dm-gateway/internal/protocol"
	"github.com/whisper/dm-gateway/internal/ratelimit"
	"github.com/whisper/dm-gateway/internal/registry"
	"github.com/whisper/dm-gateway/internal/storage/kvstore"
	"github.com/whisper/dm-gateway/internal/ws"
)

type stack struct {
	http *httptest.Server
	auth *identity.JWTAuthenticator
	svc  *chat.Service
}

func newStack(t *testing.T, limiter gateway.Limiter) *stack {
	t.Helper()
	log := zap.NewNop()

	store, err := kvstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	t.Cleanup(reg.Close)

	svc := chat.NewService(store, reg, log)
	pres := presence.NewBroadcaster(reg, nil, nil, log)
	gw := gateway.New(gateway.DefaultConfig(), reg, svc, pres, limiter, log)

	auth := identity.NewJWTAuthenticator([]byte("test-secret"), "dm-gateway-test")
	dispatcher := ws.NewMessageDispatcher(log)
	cfg := ws.DefaultServerConfig()
	cfg.Heartbeat.Interval = 0
	srv := ws.NewServer(cfg, auth, dispatcher.Dispatch, log)
	gw.Attach(srv, dispatcher)
	require.NoError(t, srv.Run())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	hs := httptest.NewServer(http.HandlerFunc(srv.HandleUpgrade))
	t.Cleanup(hs.Close)

	return &stack{http: hs, auth: auth, svc: svc}
}

// client is one user's WebSocket session.
type client struct {
	t    *testing.T
	conn net.Conn
	r    io.Reader
}

func (s *stack) connect(t *testing.T, userID string) *client {
	t.Helper()
	token, err := s.auth.SignToken(userID, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws?token=" + token
	conn, br, _, err := gobwas.Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn, r: conn}
	if br != nil {
		c.r = br
	}
	return c
}

func (c *client) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *client) Write(p []byte) (int, error) { return c.conn.Write(p) }

// next reads the next server event.
func (c *client) next() map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	data, err := wsutil.ReadServerText(c)
	require.NoError(c.t, err)
	var m map[string]any
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

// expect reads the next event and checks its type.
func (c *client) expect(msgType string) map[string]any {
	c.t.Helper()
	m := c.next()
	require.Equal(c.t, msgType, m["type"], "event: %v", m)
	return m
}

func (c *client) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	require.NoError(c.t, wsutil.WriteClientText(c, data))
}

// closed reports whether the server closed the session.
func (c *client) closed() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, err := wsutil.ReadServerText(c)
		if err != nil {
			var ne net.Error
			return !(errors.As(err, &ne) && ne.Timeout())
		}
	}
}

func TestEndToEnd(t *testing.T) {
	req := require.New(t)
	s := newStack(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()

	a := s.connect(t, alice)
	req.Equal(alice, a.expect(protocol.TypeConnected)["userId"])
	req.Empty(a.expect(protocol.TypeOnlineUsers)["userIds"])

	b := s.connect(t, bob)
	b.expect(protocol.TypeConnected)
	req.Equal([]any{alice}, b.expect(protocol.TypeOnlineUsers)["userIds"])

	online := a.expect(protocol.TypeUserStatusChanged)
	req.Equal(bob, online["userId"])
	req.Equal(protocol.StatusOnline, online["status"])

	a.send(protocol.SendMessageMsg{Type: protocol.TypeSendMessage, ReceiverID: bob, Content: "hi"})

	got := b.expect(protocol.TypeReceiveMessage)["message"].(map[string]any)
	req.Equal("hi", got["content"])
	req.Equal(false, got["isRead"])
	req.Equal(alice, got["senderId"])
	req.Equal(bob, got["receiverId"])

	echo := a.expect(protocol.TypeReceiveMessage)["message"].(map[string]any)
	req.Equal(got["id"], echo["id"])

	b.send(protocol.MarkAsReadMsg{Type: protocol.TypeMarkAsRead, SenderID: alice})
	receipt := a.expect(protocol.TypeMessagesRead)
	req.Equal(bob, receipt["readerId"])
	req.Equal(alice, receipt["senderId"])

	history, err := s.svc.GetHistory(context.Background(), alice, bob)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(got["id"], history[0].ID)
	req.True(history[0].IsRead)

	req.NoError(b.conn.Close())
	offline := a.expect(protocol.TypeUserStatusChanged)
	req.Equal(bob, offline["userId"])
	req.Equal(protocol.StatusOffline, offline["status"])
}

func TestSupersession(t *testing.T) {
	req := require.New(t)
	s := newStack(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()

	b := s.connect(t, bob)
	b.expect(protocol.TypeConnected)
	b.expect(protocol.TypeOnlineUsers)

	first := s.connect(t, alice)
	first.expect(protocol.TypeConnected)
	first.expect(protocol.TypeOnlineUsers)
	req.Equal(alice, b.expect(protocol.TypeUserStatusChanged)["userId"])

	second := s.connect(t, alice)
	second.expect(protocol.TypeConnected)
	second.expect(protocol.TypeOnlineUsers)
	req.True(first.closed(), "the older connection is closed")

	// Messages now reach only the newer connection, and bob saw no flicker.
	b.send(protocol.SendMessageMsg{Type: protocol.TypeSendMessage, ReceiverID: alice, Content: "still there?"})
	req.Equal("still there?", second.expect(protocol.TypeReceiveMessage)["message"].(map[string]any)["content"])
	b.expect(protocol.TypeReceiveMessage)

	b.send(protocol.PingMsg{Type: protocol.TypePing})
	b.expect(protocol.TypePong)
}

func TestRequestErrors(t *testing.T) {
	req := require.New(t)
	s := newStack(t, nil)
	alice := uuid.NewString()

	a := s.connect(t, alice)
	a.expect(protocol.TypeConnected)
	a.expect(protocol.TypeOnlineUsers)

	a.send(protocol.SendMessageMsg{Type: protocol.TypeSendMessage, ReceiverID: uuid.NewString(), Content: "   "})
	e := a.expect(protocol.TypeError)
	req.Equal(protocol.CodeValidationFailed, e["code"])
	req.Equal(protocol.TypeSendMessage, e["requestType"])

	a.send(map[string]any{"type": protocol.TypeSendMessage, "receiverId": map[string]any{"_id": "x"}, "content": "hi"})
	req.Equal(protocol.CodeParseError, a.expect(protocol.TypeError)["code"])

	a.send(protocol.MarkAsReadMsg{Type: protocol.TypeMarkAsRead, SenderID: "not-a-uuid"})
	req.Equal(protocol.CodeValidationFailed, a.expect(protocol.TypeError)["code"])

	a.send(map[string]any{"type": "typing"})
	req.Equal(protocol.CodeUnsupportedType, a.expect(protocol.TypeError)["code"])
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) { return false, nil }

func (denyLimiter) RetryAfter(context.Context, string, ratelimit.Rule) (time.Duration, error) {
	return 1500 * time.Millisecond, nil
}

func TestRateLimited(t *testing.T) {
	s := newStack(t, denyLimiter{})
	alice, bob := uuid.NewString(), uuid.NewString()

	a := s.connect(t, alice)
	a.expect(protocol.TypeConnected)
	a.expect(protocol.TypeOnlineUsers)

	a.send(protocol.SendMessageMsg{Type: protocol.TypeSendMessage, ReceiverID: bob, Content: "hi"})
	require.EqualValues(t, 2, a.expect(protocol.TypeRateLimited)["retryAfter"])

	history, err := s.svc.GetHistory(context.Background(), alice, bob)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{chat.ErrEmptyContent, protocol.CodeValidationFailed},
		{fmt.Errorf("wrap: %w", chat.ErrInvalidUserID), protocol.CodeValidationFailed},
		{chat.ErrForbidden, protocol.CodeForbidden},
		{fmt.Errorf("%w: append: disk full", chat.ErrPersistence), protocol.CodePersistenceFailed},
		{errors.New("boom"), protocol.CodeInternal},
	}
	for _, tt := range tests {
		code, msg := gateway.ErrorCode(tt.err)
		require.Equal(t, tt.code, code, tt.err.Error())
		require.NotEmpty(t, msg)
	}
}
