package ports

import (
	"edulive/internal/core/domain"
)

// Sender enqueues one outbound event onto a connection's write queue.
// Implementations must be safe for concurrent use and must preserve the
// order of calls made from a single goroutine.
type Sender func(domain.Event) error

// ConnectionRegistry owns the connection table: identity, joined scopes
// and the per-connection sender. It is the single writer for Connection
// state.
type ConnectionRegistry interface {
	// Register binds a connection to an authenticated identity. It is
	// idempotent per connection; rebinding to a different user fails with
	// domain.ErrIdentityMismatch.
	Register(connID domain.ConnectionID, userID domain.UserID, role domain.Role, send Sender) error

	// BeginClose marks the connection as closing so no further commands
	// are accepted, and returns the scopes it had joined for cascading
	// cleanup. Deregister removes the connection entirely.
	BeginClose(connID domain.ConnectionID) ([]domain.RoomID, error)
	Deregister(connID domain.ConnectionID)

	// JoinRoom reports whether the (connection, room) pair is new. Callers
	// must only bump presence for a new pair; a repeated join is a no-op
	// so the presence refcount stays matched to the scope set.
	JoinRoom(connID domain.ConnectionID, roomID domain.RoomID) (bool, error)
	LeaveRoom(connID domain.ConnectionID, roomID domain.RoomID)
	HasJoined(connID domain.ConnectionID, roomID domain.RoomID) bool
	JoinedRooms(connID domain.ConnectionID) []domain.RoomID

	Identity(connID domain.ConnectionID) (domain.UserID, domain.Role, error)
	ConnectionsForUser(userID domain.UserID) []domain.ConnectionID
	RoomsForUser(userID domain.UserID) []domain.RoomID
	RoomConnections(roomID domain.RoomID) []domain.ConnectionID

	Send(connID domain.ConnectionID, ev domain.Event) error
	ConnectionCount() int
}

// PresenceTracker maintains the per-room online set, reference-counted per
// user so a second device neither duplicates a join nor causes a spurious
// leave.
type PresenceTracker interface {
	// Join reports whether this was the user's first live connection in the
	// room. Leave reports whether it was the last.
	Join(roomID domain.RoomID, userID domain.UserID) bool
	Leave(roomID domain.RoomID, userID domain.UserID) bool
	OnlineUsers(roomID domain.RoomID) []domain.UserID
	IsOnline(userID domain.UserID) bool
	RoomCount() int
}

// Broadcaster fans events out to connection subsets. Delivery is
// best-effort per connection: individual failures are logged and counted,
// never returned.
type Broadcaster interface {
	ToRoom(roomID domain.RoomID, ev domain.Event, exclude domain.ConnectionID)

	// ToRoomFrom routes a room-level event by the sender's current scope:
	// inside a session room, a sender assigned to a breakout reaches only
	// breakout co-members. Everywhere else it behaves like ToRoom.
	ToRoomFrom(roomID domain.RoomID, sender domain.UserID, ev domain.Event, exclude domain.ConnectionID)

	ToUser(userID domain.UserID, ev domain.Event) int
	ToConnection(connID domain.ConnectionID, ev domain.Event) error
	ToBreakout(sessionID domain.SessionID, breakoutID domain.BreakoutID, ev domain.Event)

	// Breakout scope index, mutated only by the session coordinator.
	AssignBreakout(sessionID domain.SessionID, userID domain.UserID, breakoutID domain.BreakoutID)
	ClearBreakout(sessionID domain.SessionID, userID domain.UserID)
	BreakoutOf(sessionID domain.SessionID, userID domain.UserID) domain.BreakoutID
	DropSession(sessionID domain.SessionID)
}
