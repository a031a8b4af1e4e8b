package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/messaging"
	"github.com/whisper/dm-gateway/internal/metrics"
	"github.com/whisper/dm-gateway/internal/protocol"
)

// MarkAsRead marks every message senderID sent to readerID up to now as read
// and notifies senderID if connected. The notification is sent even when no
// message changed. It returns the number of messages that changed.
//
// The cutoff is taken under the conversation lock, so a message whose Send
// finishes after this call begins stays unread.
func (s *Service) MarkAsRead(ctx context.Context, readerID, senderID string) (int64, error) {
	if err := ValidateUserID(readerID); err != nil {
		return 0, err
	}
	if err := ValidateUserID(senderID); err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(ConversationKey(readerID, senderID))

	cutoff := s.clock.Now()
	n, err := s.store.MarkRead(ctx, readerID, senderID, cutoff)
	if err != nil {
		unlock()
		s.log.Error("mark read",
			zap.String("reader_id", readerID),
			zap.String("sender_id", senderID),
			zap.Error(err))
		return 0, fmt.Errorf("%w: mark read: %w", ErrPersistence, err)
	}

	s.push(senderID, protocol.MustServerMessage(protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ReaderID: readerID,
		SenderID: senderID,
	}))
	unlock()

	metrics.ReadMarks.Inc()
	metrics.MessagesMarkedRead.Add(float64(n))

	s.publish(messaging.SubjectMessagesRead, messaging.MessagesReadEvent{
		ReaderID: readerID,
		SenderID: senderID,
		Updated:  n,
		Cutoff:   cutoff,
	})
	return n, nil
}
