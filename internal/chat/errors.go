package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests rejected before anything was persisted.
	ErrValidation = errors.New("chat: validation failed")

	// ErrPersistence marks store failures. Nothing was delivered.
	ErrPersistence = errors.New("chat: persistence failed")

	// ErrForbidden is returned when the caller is not a participant of the
	// requested conversation.
	ErrForbidden = errors.New("chat: caller is not a participant")
)

var (
	ErrEmptyContent   = fmt.Errorf("%w: content is empty", ErrValidation)
	ErrContentTooLong = fmt.Errorf("%w: content is too long", ErrValidation)
	ErrInvalidUTF8    = fmt.Errorf("%w: content contains invalid UTF-8", ErrValidation)
	ErrInvalidUserID  = fmt.Errorf("%w: malformed user id", ErrValidation)
)
