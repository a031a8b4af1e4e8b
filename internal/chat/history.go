package chat

import (
	"context"
	"fmt"
)

// GetHistory returns the conversation between userID and otherUserID, oldest
// first. An unknown counterpart yields an empty list.
func (s *Service) GetHistory(ctx context.Context, userID, otherUserID string) ([]Message, error) {
	return s.Conversation(ctx, userID, userID, otherUserID)
}

// Conversation returns the messages between userA and userB on behalf of
// callerID, who must be one of the two.
func (s *Service) Conversation(ctx context.Context, callerID, userA, userB string) ([]Message, error) {
	if err := ValidateUserID(userA); err != nil {
		return nil, err
	}
	if err := ValidateUserID(userB); err != nil {
		return nil, err
	}
	if callerID != userA && callerID != userB {
		return nil, ErrForbidden
	}

	msgs, err := s.store.Conversation(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation: %w", ErrPersistence, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
