package domain

import (
	"encoding/json"
	"time"
)

// ParticipantState is the live media state of one user inside one video
// session. It exists only while the user is joined and is rebuilt from
// scratch on rejoin.
type ParticipantState struct {
	UserID        UserID
	SessionID     SessionID
	Muted         bool
	VideoDisabled bool
	ScreenSharing bool
	HandRaised    bool
	Breakout      BreakoutID // empty while in the main session
	JoinedAt      time.Time
}

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalingEnvelope is relayed verbatim between two participants and never
// stored.
type SignalingEnvelope struct {
	SessionID SessionID       `json:"session_id"`
	From      UserID          `json:"from"`
	To        UserID          `json:"to"`
	Kind      SignalKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}
