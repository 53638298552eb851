package domain

import "time"

type Message struct {
	ID        MessageID
	RoomID    RoomID
	AuthorID  UserID
	Content   string
	ThreadID  MessageID // empty for top-level messages
	Edited    bool
	Deleted   bool
	CreatedAt time.Time
	EditedAt  *time.Time
}

type Reaction struct {
	MessageID MessageID
	RoomID    RoomID
	UserID    UserID
	Emoji     string
}

// ModerationVerdict is the result of classifying outgoing message content.
type ModerationVerdict struct {
	Blocked    bool
	Reason     string
	Severity   string
	Confidence float64
}
