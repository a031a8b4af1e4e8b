package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxContentBytes = 4096 // 4KB, matches the WebSocket frame budget
	MaxContentChars = 2000 // max character count
)

var validate = validator.New()

// ValidateContent checks that a message body is non-empty once trimmed and
// within the size limits. The body itself is stored untrimmed.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if !utf8.ValidString(content) {
		return ErrInvalidUTF8
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: exceeds %d byte limit", ErrContentTooLong, MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("%w: exceeds %d character limit", ErrContentTooLong, MaxContentChars)
	}
	return nil
}

// ValidateUserID checks that id is a syntactically valid user identifier. It
// says nothing about whether the user exists.
func ValidateUserID(id string) error {
	if err := validate.Var(id, "required,uuid"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return nil
}
