// Package presence announces online/offline transitions. A transition is
// announced only when it changes what other users were last told, so
// reconnects and superseded connections do not produce flicker.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/identity"
	"github.com/whisper/dm-gateway/internal/keylock"
	"github.com/whisper/dm-gateway/internal/messaging"
	"github.com/whisper/dm-gateway/internal/metrics"
	"github.com/whisper/dm-gateway/internal/protocol"
	"github.com/whisper/dm-gateway/internal/registry"
)

// Registry is the read side of the connection registry.
type Registry interface {
	Lookup(userID string) (registry.Handle, bool)
	ConnectedUserIDs() []string
}

// Broadcaster tracks which users have been announced online and tells every
// other connected user when that changes.
type Broadcaster struct {
	reg    Registry
	dir    identity.Directory
	events messaging.Publisher
	log    *zap.Logger
	locks  *keylock.Locker

	mu        sync.Mutex
	announced map[string]struct{}
}

// NewBroadcaster returns a Broadcaster. dir and events may be nil.
func NewBroadcaster(reg Registry, dir identity.Directory, events messaging.Publisher, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		reg:       reg,
		dir:       dir,
		events:    events,
		log:       log.Named("presence"),
		locks:     keylock.New(),
		announced: make(map[string]struct{}),
	}
}

// OnConnect announces userID online unless it already is. It must be called
// after the user's handle has been registered.
func (b *Broadcaster) OnConnect(ctx context.Context, userID string) {
	unlock := b.locks.Lock(userID)
	defer unlock()

	if b.isAnnounced(userID) {
		return
	}
	if _, ok := b.reg.Lookup(userID); !ok {
		// Disconnected before we got here.
		return
	}
	b.setDirectory(ctx, userID, true)
	b.setAnnounced(userID, true)
	b.broadcast(userID, protocol.StatusOnline)
}

// OnDisconnect announces userID offline if it was announced online and no
// connection for it remains registered.
func (b *Broadcaster) OnDisconnect(ctx context.Context, userID string) {
	unlock := b.locks.Lock(userID)
	defer unlock()

	if !b.isAnnounced(userID) {
		return
	}
	if _, ok := b.reg.Lookup(userID); ok {
		// Superseded, not gone.
		return
	}
	b.setDirectory(ctx, userID, false)
	b.setAnnounced(userID, false)
	b.broadcast(userID, protocol.StatusOffline)
}

// IsAnnounced reports whether userID is currently announced online.
func (b *Broadcaster) IsAnnounced(userID string) bool {
	return b.isAnnounced(userID)
}

func (b *Broadcaster) isAnnounced(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.announced[userID]
	return ok
}

func (b *Broadcaster) setAnnounced(userID string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.announced[userID] = struct{}{}
	} else {
		delete(b.announced, userID)
	}
}

// setDirectory records the transition in the user directory. A directory
// failure does not stop the live announcement.
func (b *Broadcaster) setDirectory(ctx context.Context, userID string, online bool) {
	if b.dir == nil {
		return
	}
	if err := b.dir.SetOnline(ctx, userID, online); err != nil {
		b.log.Warn("directory update failed",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}

func (b *Broadcaster) broadcast(userID, status string) {
	data := protocol.MustServerMessage(protocol.TypeUserStatusChanged, protocol.UserStatusChangedMsg{
		UserID: userID,
		Status: status,
	})

	others := lo.Filter(b.reg.ConnectedUserIDs(), func(id string, _ int) bool {
		return id != userID
	})
	for _, id := range others {
		h, ok := b.reg.Lookup(id)
		if !ok {
			continue
		}
		if err := h.Send(data); err != nil {
			metrics.PushesDropped.Inc()
			b.log.Debug("status push dropped", zap.String("user_id", id), zap.Error(err))
		}
	}

	metrics.PresenceTransitions.WithLabelValues(status).Inc()
	b.log.Info("presence changed",
		zap.String("user_id", userID),
		zap.String("status", status),
		zap.Int("notified", len(others)))

	if b.events != nil {
		ev := messaging.PresenceEvent{UserID: userID, Status: status, At: time.Now().UTC()}
		if err := b.events.PublishJSON(messaging.SubjectPresence, ev); err != nil {
			b.log.Warn("publish presence", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
