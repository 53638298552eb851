package memory

import (
	"context"
	"strings"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
)

// KeywordModerator is a local content filter: it blocks messages that
// contain any configured keyword, case-insensitively. The production
// deployment points the Moderator port at the platform's moderation
// service instead.
type KeywordModerator struct {
	keywords []string
}

func NewKeywordModerator(keywords []string) ports.Moderator {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &KeywordModerator{keywords: lowered}
}

func (m *KeywordModerator) CheckMessage(ctx context.Context, content string, roomID domain.RoomID, userID domain.UserID) (domain.ModerationVerdict, error) {
	lowered := strings.ToLower(content)
	for _, kw := range m.keywords {
		if strings.Contains(lowered, kw) {
			return domain.ModerationVerdict{
				Blocked:    true,
				Reason:     "prohibited content",
				Severity:   "high",
				Confidence: 1.0,
			}, nil
		}
	}
	return domain.ModerationVerdict{}, nil
}
