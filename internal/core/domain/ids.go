package domain

type UserID string
type ConnectionID string
type RoomID string
type SessionID string
type MessageID string
type BreakoutID string

// Room returns the presence scope a video session occupies. Sessions are
// structurally rooms for presence and broadcast purposes; the prefix keeps
// the two id spaces from colliding.
func (s SessionID) Room() RoomID {
	return RoomID("session:" + string(s))
}

// SessionFromRoom reverses SessionID.Room.
func SessionFromRoom(roomID RoomID) (SessionID, bool) {
	const prefix = "session:"
	s := string(roomID)
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return SessionID(s[len(prefix):]), true
	}
	return "", false
}

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// IsStaff reports whether the role carries moderator privileges by default.
func (r Role) IsStaff() bool {
	return r == RoleTeacher || r == RoleAdmin
}
