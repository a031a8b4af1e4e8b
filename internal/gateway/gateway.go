// Package gateway binds WebSocket sessions to the messaging core: it admits
// connections into the registry, announces presence, and turns client
// requests into chat.Service calls and their replies.
package gateway

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/chat"
	"github.com/whisper/dm-gateway/internal/metrics"
	"github.com/whisper/dm-gateway/internal/protocol"
	"github.com/whisper/dm-gateway/internal/ratelimit"
	"github.com/whisper/dm-gateway/internal/registry"
	"github.com/whisper/dm-gateway/internal/ws"
)

// Limiter throttles requests per user. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) (time.Duration, error)
}

// Presence is notified of every admitted and departed user.
type Presence interface {
	OnConnect(ctx context.Context, userID string)
	OnDisconnect(ctx context.Context, userID string)
}

// Config holds gateway tuning parameters.
type Config struct {
	MessageRule    ratelimit.Rule
	RequestTimeout time.Duration // bound on store and directory I/O per request
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		MessageRule:    ratelimit.RuleMessage,
		RequestTimeout: 5 * time.Second,
	}
}

// Gateway implements the session lifecycle and request handlers.
type Gateway struct {
	cfg      Config
	reg      *registry.Registry
	chat     *chat.Service
	presence Presence
	limiter  Limiter
	log      *zap.Logger
}

// New returns a Gateway. limiter may be nil to disable rate limiting.
func New(cfg Config, reg *registry.Registry, svc *chat.Service, presence Presence, limiter Limiter, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Gateway{
		cfg:      cfg,
		reg:      reg,
		chat:     svc,
		presence: presence,
		limiter:  limiter,
		log:      log.Named("gateway"),
	}
}

// Attach wires the gateway into the server's connection hooks and the
// dispatcher's request handlers.
func (g *Gateway) Attach(server *ws.Server, d *ws.MessageDispatcher) {
	server.SetOnConnect(g.OnConnect)
	server.SetOnDisconnect(g.OnDisconnect)
	d.Register(protocol.TypeSendMessage, g.handleSendMessage)
	d.Register(protocol.TypeMarkAsRead, g.handleMarkAsRead)
}

func (g *Gateway) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
}

// OnConnect registers an authenticated connection, replacing and closing any
// previous connection of the same user, then greets it and announces the
// user online.
func (g *Gateway) OnConnect(c *ws.Connection) {
	log := g.log.With(zap.String("user_id", c.UserID), zap.String("conn_id", c.ID))

	prev := g.reg.Register(c.UserID, c)
	if prev != nil && prev != registry.Handle(c) {
		metrics.Supersessions.Inc()
		log.Info("superseding previous connection")
		_ = prev.Close()
	}

	if !c.MarkRegistered() {
		// Closed while registering; its disconnect hook may have run too early.
		if g.reg.Unregister(c.UserID, c) {
			ctx, cancel := g.requestContext()
			defer cancel()
			g.presence.OnDisconnect(ctx, c.UserID)
		}
		return
	}

	_ = c.Send(protocol.MustServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		UserID: c.UserID,
	}))
	_ = c.Send(protocol.MustServerMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		UserIDs: lo.Without(g.reg.ConnectedUserIDs(), c.UserID),
	}))

	ctx, cancel := g.requestContext()
	defer cancel()
	g.presence.OnConnect(ctx, c.UserID)
	log.Debug("session admitted")
}

// OnDisconnect removes a closed connection from the registry and announces
// the user offline if it was the user's live connection.
func (g *Gateway) OnDisconnect(c *ws.Connection) {
	if !g.reg.Unregister(c.UserID, c) {
		return
	}
	ctx, cancel := g.requestContext()
	defer cancel()
	g.presence.OnDisconnect(ctx, c.UserID)
}

func (g *Gateway) handleSendMessage(c *ws.Connection, msg interface{}) {
	req, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext()
	defer cancel()

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, c.UserID, g.cfg.MessageRule)
		if err == nil && !allowed {
			wait, _ := g.limiter.RetryAfter(ctx, c.UserID, g.cfg.MessageRule)
			metrics.MessagesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			_ = c.Send(protocol.MustServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(math.Ceil(wait.Seconds())),
			}))
			return
		}
	}

	if _, err := g.chat.Send(ctx, c.UserID, req.ReceiverID, req.Content); err != nil {
		g.replyError(c, protocol.TypeSendMessage, err)
	}
}

func (g *Gateway) handleMarkAsRead(c *ws.Connection, msg interface{}) {
	req, ok := msg.(protocol.MarkAsReadMsg)
	if !ok {
		return
	}
	ctx, cancel := g.requestContext()
	defer cancel()

	if _, err := g.chat.MarkAsRead(ctx, c.UserID, req.SenderID); err != nil {
		g.replyError(c, protocol.TypeMarkAsRead, err)
	}
}

// replyError maps a service error to its wire code.
func (g *Gateway) replyError(c *ws.Connection, requestType string, err error) {
	code, message := ErrorCode(err)
	if code == protocol.CodeInternal || code == protocol.CodePersistenceFailed {
		g.log.Error("request failed",
			zap.String("user_id", c.UserID),
			zap.String("request", requestType),
			zap.Error(err))
	}
	ws.SendError(c, code, message, requestType)
}

// ErrorCode classifies err into a wire error code and a client-safe message.
func ErrorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return protocol.CodeValidationFailed, err.Error()
	case errors.Is(err, chat.ErrForbidden):
		return protocol.CodeForbidden, "not a participant"
	case errors.Is(err, chat.ErrPersistence):
		return protocol.CodePersistenceFailed, "message store unavailable"
	default:
		return protocol.CodeInternal, "internal error"
	}
}
