package chat

import (
	"time"

	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/keylock"
	"github.com/whisper/dm-gateway/internal/messaging"
	"github.com/whisper/dm-gateway/internal/metrics"
	"github.com/whisper/dm-gateway/internal/registry"
)

// Connections resolves a user id to its live connection, if any.
type Connections interface {
	Lookup(userID string) (registry.Handle, bool)
}

// Service routes direct messages, applies read receipts and serves history.
// Operations on the same conversation are serialized so that createdAt order,
// persistence order and live push order agree.
type Service struct {
	store  Store
	conns  Connections
	events messaging.Publisher
	clock  *Clock
	locks  *keylock.Locker
	log    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher fans message and receipt events out to p.
func WithPublisher(p messaging.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the wall clock used for createdAt and read cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = NewClock(now) }
}

// NewService wires a Service over store and the connection registry.
func NewService(store Store, conns Connections, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store: store,
		conns: conns,
		clock: NewClock(nil),
		locks: keylock.New(),
		log:   log.Named("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// push delivers an encoded server message to userID's live connection.
// Delivery is best effort: an absent or failing connection is not an error.
func (s *Service) push(userID string, data []byte) bool {
	h, ok := s.conns.Lookup(userID)
	if !ok {
		return false
	}
	if err := h.Send(data); err != nil {
		metrics.PushesDropped.Inc()
		s.log.Debug("push dropped", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) publish(subject string, v any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(subject, v); err != nil {
		s.log.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}
