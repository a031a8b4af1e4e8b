package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/messaging"
	"github.com/whisper/dm-gateway/internal/metrics"
	"github.com/whisper/dm-gateway/internal/protocol"
)

// Send validates, persists and delivers one message from senderID to
// receiverID. The stored message is pushed to the receiver and echoed to the
// sender, each only if connected. A message to oneself is pushed once.
//
// Nothing is pushed unless the message was persisted.
func (s *Service) Send(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	start := time.Now()

	if err := ValidateUserID(senderID); err != nil {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		return Message{}, err
	}
	if err := ValidateUserID(receiverID); err != nil {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		return Message{}, err
	}
	if err := ValidateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		return Message{}, err
	}

	unlock := s.locks.Lock(ConversationKey(senderID, receiverID))

	msg := Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.Append(ctx, msg); err != nil {
		unlock()
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.log.Error("append message",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
			zap.Error(err))
		return Message{}, fmt.Errorf("%w: append: %w", ErrPersistence, err)
	}

	data := protocol.MustServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
		Message: msg.Wire(),
	})
	delivered := s.push(receiverID, data)
	if senderID != receiverID {
		s.push(senderID, data)
	}
	unlock()

	if delivered {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeDelivered).Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeStored).Inc()
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	s.publish(messaging.SubjectMessageCreated, messaging.MessageCreatedEvent{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Length:     len(msg.Content),
		Delivered:  delivered,
		CreatedAt:  msg.CreatedAt,
	})
	return msg, nil
}
