package ports

import (
	"context"

	"edulive/internal/core/domain"
)

// MessageRepository persists chat messages and reactions. Backed by the
// platform's primary store; this core only writes through it.
type MessageRepository interface {
	Persist(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	Update(ctx context.Context, msg *domain.Message) error
	MarkDeleted(ctx context.Context, id domain.MessageID) error

	// AddReaction reports false when the (message, user, emoji) triple was
	// already present. RemoveReaction reports false when it was absent.
	AddReaction(ctx context.Context, r *domain.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, r *domain.Reaction) (bool, error)
}

// RoomDirectory answers membership questions about persisted chat rooms.
type RoomDirectory interface {
	CheckAccess(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error)
	IsModerator(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error)
}

// SessionDirectory answers capacity/permission questions about video
// sessions and records participant attendance.
type SessionDirectory interface {
	CanJoin(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error
	IsHost(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (bool, error)
	PersistParticipant(ctx context.Context, sessionID domain.SessionID, userID domain.UserID, joined bool) error
}

// Moderator classifies outgoing message content before it is persisted or
// broadcast.
type Moderator interface {
	CheckMessage(ctx context.Context, content string, roomID domain.RoomID, userID domain.UserID) (domain.ModerationVerdict, error)
}
