package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength = 4000
	MaxEmojiLength   = 32
	MaxIDLength      = 100
)

// IDRegex validates room, session and message id format.
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

// ValidateID validates a scope or entity identifier.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, MaxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateMessageContent validates chat message text.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return fmt.Errorf("message is too long (max %d characters)", MaxMessageLength)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid characters")
	}
	return nil
}

// ValidateEmoji validates a reaction emoji token.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return fmt.Errorf("emoji is required")
	}
	if len(emoji) > MaxEmojiLength {
		return fmt.Errorf("emoji is too long (max %d bytes)", MaxEmojiLength)
	}
	if !utf8.ValidString(emoji) {
		return fmt.Errorf("emoji contains invalid characters")
	}
	return nil
}
