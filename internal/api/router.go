// Package api serves the gateway's HTTP surface: the WebSocket upgrade, the
// conversation history endpoint and the operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/chat"
	"github.com/whisper/dm-gateway/internal/identity"
	"github.com/whisper/dm-gateway/internal/metrics"
	"github.com/whisper/dm-gateway/internal/ratelimit"
)

// History reads a conversation on behalf of one of its participants.
type History interface {
	GetHistory(ctx context.Context, userID, otherUserID string) ([]chat.Message, error)
}

// Limiter throttles requests per user. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) (time.Duration, error)
}

// Status reports live server figures for /health.
type Status interface {
	ConnectionCount() int
	Uptime() time.Duration
}

// Config holds the router's collaborators. Limiter, Status and Upgrade are
// optional.
type Config struct {
	Auth        identity.Authenticator
	History     History
	Limiter     Limiter
	HistoryRule ratelimit.Rule
	Status      Status
	Upgrade     http.HandlerFunc
	Log         *zap.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(cfg Config) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	if cfg.HistoryRule.Limit == 0 {
		cfg.HistoryRule = ratelimit.RuleHistory
	}

	r := gin.New()
	r.Use(requestLogger(log), gin.Recovery())

	r.GET("/health", health(cfg.Status))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if cfg.Upgrade != nil {
		r.GET("/ws", gin.WrapF(cfg.Upgrade))
	}

	h := &historyHandler{
		history: cfg.History,
		limiter: cfg.Limiter,
		rule:    cfg.HistoryRule,
		log:     log,
	}
	chatGroup := r.Group("/chat", requireUser(cfg.Auth))
	chatGroup.GET("/history/:otherUserId", h.get)

	return r
}

func health(status Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if status != nil {
			body["connections"] = status.ConnectionCount()
			body["uptime"] = status.Uptime().Round(time.Second).String()
		}
		c.JSON(http.StatusOK, body)
	}
}
