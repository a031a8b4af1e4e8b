package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/chat"
	"github.com/whisper/dm-gateway/internal/protocol"
	"github.com/whisper/dm-gateway/internal/ratelimit"
)

type historyHandler struct {
	history History
	limiter Limiter
	rule    ratelimit.Rule
	log     *zap.Logger
}

// get returns the caller's conversation with :otherUserId, oldest first.
func (h *historyHandler) get(c *gin.Context) {
	userID := c.GetString(userIDKey)
	other := c.Param("otherUserId")
	ctx := c.Request.Context()

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, userID, h.rule)
		if err == nil && !allowed {
			wait, _ := h.limiter.RetryAfter(ctx, userID, h.rule)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
	}

	msgs, err := h.history.GetHistory(ctx, userID, other)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	default:
		h.log.Error("history failed",
			zap.String("user_id", userID),
			zap.String("other_user_id", other),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(msgs, func(m chat.Message, _ int) protocol.Message {
		return m.Wire()
	}))
}
