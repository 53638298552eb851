package domain

type EventType string

// Outbound event names, as delivered to clients.
const (
	EventNewMessage        EventType = "new_message"
	EventMessageSent       EventType = "message_sent"
	EventMessageEdited     EventType = "message_edited"
	EventMessageDeleted    EventType = "message_deleted"
	EventMessageBlocked    EventType = "message_blocked"
	EventMessageRead       EventType = "message_read"
	EventReactionAdded     EventType = "reaction_added"
	EventReactionRemoved   EventType = "reaction_removed"
	EventUserTyping        EventType = "user_typing"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventParticipantState  EventType = "participant_state_changed"
	EventBreakoutMoved     EventType = "breakout_moved"
	EventWebRTCSignal      EventType = "webrtc_signal"
	EventSessionJoined     EventType = "session_joined"
	EventSessionEnded      EventType = "session_ended"
	EventError             EventType = "error"
)

// Event is a single outbound frame. Payload is marshaled as-is by the
// transport's write pump.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}
