package ports

import (
	"context"

	"edulive/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// ChatService handles chat-room commands. All methods validate the caller's
// connection and room membership before touching collaborators; failures
// are returned to the transport, which delivers a private error event to
// the originating connection only.
type ChatService interface {
	JoinRoom(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID) error
	LeaveRoom(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID) error

	SendMessage(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, tempID, content string, threadID domain.MessageID) error
	EditMessage(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, content string) error
	DeleteMessage(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID) error

	AddReaction(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, emoji string) error
	RemoveReaction(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, emoji string) error

	Typing(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, active bool) error
	MarkRead(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID) error
}

// StateChange carries only the participant-state fields a command actually
// touches; nil fields are left untouched and excluded from the broadcast.
type StateChange struct {
	Muted         *bool
	VideoDisabled *bool
	ScreenSharing *bool
	HandRaised    *bool
}

// SessionJoinInfo is returned to the joining connection only.
type SessionJoinInfo struct {
	SessionID    domain.SessionID
	ICEServers   []webrtc.ICEServer
	Participants []domain.ParticipantState
}

// SessionService coordinates video sessions: participant lifecycle, media
// state, breakout scoping and peer-to-peer signal relay.
type SessionService interface {
	Join(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) (*SessionJoinInfo, error)
	Leave(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error

	UpdateState(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, change StateChange) error

	JoinBreakout(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, breakoutID domain.BreakoutID) error
	LeaveBreakout(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error

	RelaySignal(ctx context.Context, connID domain.ConnectionID, env *domain.SignalingEnvelope) error

	ForceMute(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, target domain.UserID) error
	RemoveParticipant(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, target domain.UserID) error
	EndSession(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error

	// ParticipantDropped is the disconnect-cascade hook: the transport
	// calls it for each session scope a dropped connection had joined.
	// When lastConnection is true the user's participant state is removed
	// and participant_left is broadcast.
	ParticipantDropped(sessionID domain.SessionID, userID domain.UserID, lastConnection bool)
}

// TypingNotifier manages short-lived typing indicators with automatic
// expiry.
type TypingNotifier interface {
	Start(roomID domain.RoomID, userID domain.UserID)
	Stop(roomID domain.RoomID, userID domain.UserID)

	// CancelRoomUser cancels a single indicator; CancelUser cancels all of
	// a user's indicators across rooms. Both emit typing=false for timers
	// that were active.
	CancelRoomUser(roomID domain.RoomID, userID domain.UserID)
	CancelUser(userID domain.UserID)
}
