package services_test

import (
	"context"
	"testing"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
	"edulive/internal/core/services"
	"edulive/internal/infrastructure/realtime"
	"edulive/internal/infrastructure/repositories/memory"
	"edulive/pkg/retry"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sessionHarness struct {
	registry *realtime.Registry
	presence *realtime.Presence
	router   *realtime.Router
	sessions *memory.MemorySessionDirectory
	svc      ports.SessionService
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	log := zap.NewNop().Sugar()
	registry := realtime.NewRegistry(log)
	presence := realtime.NewPresence()
	router := realtime.NewRouter(registry, nil, log)
	sessions := memory.NewMemorySessionDirectory()

	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}
	svc := services.NewSessionService(
		registry, presence, router, sessions,
		ice, retry.Config{Enabled: false}, nil, log,
	)
	return &sessionHarness{
		registry: registry,
		presence: presence,
		router:   router,
		sessions: sessions,
		svc:      svc,
	}
}

func (h *sessionHarness) connect(t *testing.T, connID domain.ConnectionID, userID domain.UserID) *inbox {
	t.Helper()
	in := &inbox{}
	require.NoError(t, h.registry.Register(connID, userID, domain.RoleStudent, in.sender()))
	return in
}

func (h *sessionHarness) joinSession(t *testing.T, connID domain.ConnectionID, sessionID domain.SessionID) *ports.SessionJoinInfo {
	t.Helper()
	info, err := h.svc.Join(context.Background(), connID, sessionID)
	require.NoError(t, err)
	return info
}

func TestSessionService_JoinReturnsICEAndRoster(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")

	h.connect(t, "conn-a", "alice")
	info := h.joinSession(t, "conn-a", "sess-1")

	require.Len(t, info.ICEServers, 1)
	require.Len(t, info.Participants, 1)
	assert.Equal(t, domain.UserID("host"), info.Participants[0].UserID)
	// Conservative media defaults for everyone.
	assert.True(t, info.Participants[0].Muted)
	assert.True(t, info.Participants[0].VideoDisabled)
}

func TestSessionService_JoinUnknownSession(t *testing.T) {
	h := newSessionHarness(t)
	h.connect(t, "conn-a", "alice")

	_, err := h.svc.Join(context.Background(), "conn-a", "sess-missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_JoinCapacity(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 1)

	h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")

	h.connect(t, "conn-a", "alice")
	_, err := h.svc.Join(context.Background(), "conn-a", "sess-1")
	assert.ErrorIs(t, err, domain.ErrSessionFull)

	// A second device of an existing participant is not a new seat.
	h.connect(t, "conn-h2", "host")
	_, err = h.svc.Join(context.Background(), "conn-h2", "sess-1")
	assert.NoError(t, err)
}

func TestSessionService_JoinAnnouncesFirstDeviceOnly(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	hostIn := h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")

	h.connect(t, "conn-a1", "alice")
	h.joinSession(t, "conn-a1", "sess-1")
	require.Len(t, hostIn.ofType(domain.EventParticipantJoined), 1)

	h.connect(t, "conn-a2", "alice")
	h.joinSession(t, "conn-a2", "sess-1")
	assert.Len(t, hostIn.ofType(domain.EventParticipantJoined), 1)
}

func TestSessionService_UpdateStateBroadcastsDelta(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	hostIn := h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	hostIn.reset()

	unmuted := false
	require.NoError(t, h.svc.UpdateState(context.Background(), "conn-a", "sess-1",
		ports.StateChange{Muted: &unmuted}))

	changes := hostIn.ofType(domain.EventParticipantState)
	require.Len(t, changes, 1)
	payload := changes[0].Payload.(services.StateChangedPayload)
	require.NotNil(t, payload.Muted)
	assert.False(t, *payload.Muted)
	// Untouched fields do not travel.
	assert.Nil(t, payload.VideoDisabled)
	assert.Nil(t, payload.HandRaised)
	assert.Empty(t, payload.ChangedBy)
}

func TestSessionService_UpdateStateRequiresParticipation(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)
	h.connect(t, "conn-a", "alice")

	raised := true
	err := h.svc.UpdateState(context.Background(), "conn-a", "sess-1",
		ports.StateChange{HandRaised: &raised})
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestSessionService_RelaySignalForcesSenderIdentity(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	bobIn := h.connect(t, "conn-b", "bob")
	h.joinSession(t, "conn-b", "sess-1")
	bobIn.reset()

	env := &domain.SignalingEnvelope{
		SessionID: "sess-1",
		From:      "someone-else", // spoof attempt
		To:        "bob",
		Kind:      domain.SignalOffer,
	}
	require.NoError(t, h.svc.RelaySignal(context.Background(), "conn-a", env))

	signals := bobIn.ofType(domain.EventWebRTCSignal)
	require.Len(t, signals, 1)
	delivered := signals[0].Payload.(*domain.SignalingEnvelope)
	assert.Equal(t, domain.UserID("alice"), delivered.From)
}

func TestSessionService_RelaySignalToOfflineTargetIsSilent(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")

	err := h.svc.RelaySignal(context.Background(), "conn-a", &domain.SignalingEnvelope{
		SessionID: "sess-1",
		To:        "ghost",
		Kind:      domain.SignalICECandidate,
	})
	assert.NoError(t, err)
}

func TestSessionService_RelaySignalValidation(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)
	h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	ctx := context.Background()

	err := h.svc.RelaySignal(ctx, "conn-a", &domain.SignalingEnvelope{
		SessionID: "sess-1", To: "bob", Kind: "bogus",
	})
	assert.Error(t, err)

	err = h.svc.RelaySignal(ctx, "conn-a", &domain.SignalingEnvelope{
		SessionID: "sess-1", Kind: domain.SignalAnswer,
	})
	assert.Error(t, err)

	// Non-participants cannot relay into the session.
	h.connect(t, "conn-x", "outsider")
	err = h.svc.RelaySignal(ctx, "conn-x", &domain.SignalingEnvelope{
		SessionID: "sess-1", To: "alice", Kind: domain.SignalOffer,
	})
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestSessionService_BreakoutMoveAndReturn(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	hostIn := h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	hostIn.reset()

	ctx := context.Background()
	require.NoError(t, h.svc.JoinBreakout(ctx, "conn-a", "sess-1", "breakout-1"))
	assert.Equal(t, domain.BreakoutID("breakout-1"), h.router.BreakoutOf("sess-1", "alice"))

	moves := hostIn.ofType(domain.EventBreakoutMoved)
	require.Len(t, moves, 1)
	assert.Equal(t, domain.BreakoutID("breakout-1"),
		moves[0].Payload.(services.BreakoutMovedPayload).BreakoutID)

	require.NoError(t, h.svc.LeaveBreakout(ctx, "conn-a", "sess-1"))
	assert.Equal(t, domain.BreakoutID(""), h.router.BreakoutOf("sess-1", "alice"))
}

func TestSessionService_ForceMuteRequiresHost(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	aliceIn := h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	aliceIn.reset()

	ctx := context.Background()
	err := h.svc.ForceMute(ctx, "conn-a", "sess-1", "host")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	require.NoError(t, h.svc.ForceMute(ctx, "conn-h", "sess-1", "alice"))
	changes := aliceIn.ofType(domain.EventParticipantState)
	require.Len(t, changes, 1)
	payload := changes[0].Payload.(services.StateChangedPayload)
	require.NotNil(t, payload.Muted)
	assert.True(t, *payload.Muted)
	assert.Equal(t, domain.UserID("host"), payload.ChangedBy)
}

func TestSessionService_RemoveParticipant(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	aliceIn := h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	aliceIn.reset()

	require.NoError(t, h.svc.RemoveParticipant(context.Background(), "conn-h", "sess-1", "alice"))

	// The removed user is out of the room scope but still hears why.
	left := aliceIn.ofType(domain.EventParticipantLeft)
	require.NotEmpty(t, left)
	assert.Equal(t, "removed", left[0].Payload.(services.ParticipantLeftPayload).Reason)
	assert.False(t, h.registry.HasJoined("conn-a", domain.SessionID("sess-1").Room()))
	assert.False(t, h.presence.IsOnline("alice"))
}

func TestSessionService_LeaveLastDeviceBroadcasts(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	hostIn := h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	h.connect(t, "conn-a1", "alice")
	h.joinSession(t, "conn-a1", "sess-1")
	h.connect(t, "conn-a2", "alice")
	h.joinSession(t, "conn-a2", "sess-1")
	hostIn.reset()

	ctx := context.Background()
	require.NoError(t, h.svc.Leave(ctx, "conn-a1", "sess-1"))
	assert.Empty(t, hostIn.ofType(domain.EventParticipantLeft))

	require.NoError(t, h.svc.Leave(ctx, "conn-a2", "sess-1"))
	left := hostIn.ofType(domain.EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "left", left[0].Payload.(services.ParticipantLeftPayload).Reason)
}

func TestSessionService_ParticipantDroppedCascade(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	hostIn := h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	hostIn.reset()

	// Not the last connection: nothing happens.
	h.svc.ParticipantDropped("sess-1", "alice", false)
	assert.Empty(t, hostIn.ofType(domain.EventParticipantLeft))

	h.svc.ParticipantDropped("sess-1", "alice", true)
	left := hostIn.ofType(domain.EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "disconnected", left[0].Payload.(services.ParticipantLeftPayload).Reason)
}

func TestSessionService_EndSession(t *testing.T) {
	h := newSessionHarness(t)
	h.sessions.CreateSession("sess-1", "host", 0)

	h.connect(t, "conn-h", "host")
	h.joinSession(t, "conn-h", "sess-1")
	aliceIn := h.connect(t, "conn-a", "alice")
	h.joinSession(t, "conn-a", "sess-1")
	aliceIn.reset()

	ctx := context.Background()
	err := h.svc.EndSession(ctx, "conn-a", "sess-1")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	require.NoError(t, h.svc.EndSession(ctx, "conn-h", "sess-1"))

	ended := aliceIn.ofType(domain.EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, domain.UserID("host"), ended[0].Payload.(services.SessionEndedPayload).EndedBy)

	room := domain.SessionID("sess-1").Room()
	assert.Empty(t, h.registry.RoomConnections(room))
	assert.False(t, h.presence.IsOnline("alice"))
	assert.False(t, h.presence.IsOnline("host"))
}
