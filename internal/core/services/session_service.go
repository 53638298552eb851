package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
	apperrors "edulive/pkg/errors"
	"edulive/pkg/retry"
	"edulive/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Outbound payload shapes for session events.

type ParticipantStatePayload struct {
	SessionID     domain.SessionID  `json:"session_id"`
	UserID        domain.UserID     `json:"user_id"`
	Muted         bool              `json:"muted"`
	VideoDisabled bool              `json:"video_disabled"`
	ScreenSharing bool              `json:"screen_sharing"`
	HandRaised    bool              `json:"hand_raised"`
	BreakoutID    domain.BreakoutID `json:"breakout_id,omitempty"`
}

type ParticipantLeftPayload struct {
	SessionID domain.SessionID `json:"session_id"`
	UserID    domain.UserID    `json:"user_id"`
	Reason    string           `json:"reason"` // "left", "removed" or "disconnected"
}

// StateChangedPayload carries only the fields a command actually changed.
type StateChangedPayload struct {
	SessionID     domain.SessionID `json:"session_id"`
	UserID        domain.UserID    `json:"user_id"`
	Muted         *bool            `json:"muted,omitempty"`
	VideoDisabled *bool            `json:"video_disabled,omitempty"`
	ScreenSharing *bool            `json:"screen_sharing,omitempty"`
	HandRaised    *bool            `json:"hand_raised,omitempty"`
	ChangedBy     domain.UserID    `json:"changed_by,omitempty"` // set on host overrides
}

type BreakoutMovedPayload struct {
	SessionID  domain.SessionID  `json:"session_id"`
	UserID     domain.UserID     `json:"user_id"`
	BreakoutID domain.BreakoutID `json:"breakout_id,omitempty"` // empty means back to main
}

type SessionEndedPayload struct {
	SessionID domain.SessionID `json:"session_id"`
	EndedBy   domain.UserID    `json:"ended_by"`
}

// sessionService coordinates video sessions. Participant state lives in
// memory keyed by (session, user); the map lock is held only for state
// mutation, never across collaborator calls or fan-out.
type sessionService struct {
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
	router   ports.Broadcaster
	sessions ports.SessionDirectory

	iceServers []webrtc.ICEServer
	retryCfg   retry.Config

	mu           sync.RWMutex
	participants map[domain.SessionID]map[domain.UserID]*domain.ParticipantState

	metrics ports.Instrumentation
	logger  *zap.SugaredLogger
}

func NewSessionService(
	registry ports.ConnectionRegistry,
	presence ports.PresenceTracker,
	router ports.Broadcaster,
	sessions ports.SessionDirectory,
	iceServers []webrtc.ICEServer,
	retryCfg retry.Config,
	metrics ports.Instrumentation,
	logger *zap.SugaredLogger,
) ports.SessionService {
	if metrics == nil {
		metrics = ports.NopInstrumentation{}
	}
	return &sessionService{
		registry:     registry,
		presence:     presence,
		router:       router,
		sessions:     sessions,
		iceServers:   iceServers,
		retryCfg:     retryCfg,
		participants: make(map[domain.SessionID]map[domain.UserID]*domain.ParticipantState),
		metrics:      metrics,
		logger:       logger,
	}
}

func (s *sessionService) Join(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) (*ports.SessionJoinInfo, error) {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateID(string(sessionID), "session_id"); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid join_session command", 400)
	}

	if err := s.sessions.CanJoin(ctx, sessionID, userID); err != nil {
		if errors.Is(err, domain.ErrSessionFull) || errors.Is(err, domain.ErrAccessDenied) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "session directory unavailable", 503)
	}

	// Attendance is recorded before any state registration so a failed
	// persist leaves nothing to unwind.
	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.sessions.PersistParticipant(ctx, sessionID, userID, true)
	}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to record attendance", 503)
	}

	room := sessionID.Room()
	isNew, err := s.registry.JoinRoom(connID, room)
	if err != nil {
		return nil, err
	}
	// A repeated join_session on the same connection must not re-count
	// presence; it still gets the ICE config and roster back.
	first := false
	if isNew {
		first = s.presence.Join(room, userID)
	}

	s.mu.Lock()
	if s.participants[sessionID] == nil {
		s.participants[sessionID] = make(map[domain.UserID]*domain.ParticipantState)
	}
	state, exists := s.participants[sessionID][userID]
	if !exists {
		// Conservative defaults: nobody joins hot.
		state = &domain.ParticipantState{
			UserID:        userID,
			SessionID:     sessionID,
			Muted:         true,
			VideoDisabled: true,
			JoinedAt:      time.Now().UTC(),
		}
		s.participants[sessionID][userID] = state
	}
	others := make([]domain.ParticipantState, 0, len(s.participants[sessionID]))
	for uid, p := range s.participants[sessionID] {
		if uid != userID {
			others = append(others, *p)
		}
	}
	live := len(s.participants)
	joined := *state
	s.mu.Unlock()

	s.metrics.SetSessionsLive(live)

	if first {
		s.router.ToRoom(room, domain.Event{
			Type:    domain.EventParticipantJoined,
			Payload: statePayload(&joined),
		}, connID)
	}

	return &ports.SessionJoinInfo{
		SessionID:    sessionID,
		ICEServers:   s.iceServers,
		Participants: others,
	}, nil
}

func (s *sessionService) Leave(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	room := sessionID.Room()
	if !s.registry.HasJoined(connID, room) {
		return domain.ErrNotParticipant
	}

	s.registry.LeaveRoom(connID, room)
	if s.presence.Leave(room, userID) {
		s.removeParticipantState(ctx, sessionID, userID, "left")
	}
	return nil
}

func (s *sessionService) UpdateState(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, change ports.StateChange) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, ok := s.participants[sessionID][userID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotParticipant
	}
	payload := StateChangedPayload{SessionID: sessionID, UserID: userID}
	applyChange(state, change, &payload)
	s.mu.Unlock()

	// Delta broadcast: only the touched fields travel.
	s.router.ToRoom(sessionID.Room(), domain.Event{
		Type:    domain.EventParticipantState,
		Payload: payload,
	}, "")
	return nil
}

func (s *sessionService) JoinBreakout(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, breakoutID domain.BreakoutID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if err := validation.ValidateID(string(breakoutID), "breakout_id"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid join_breakout_room command", 400)
	}

	s.mu.Lock()
	state, ok := s.participants[sessionID][userID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotParticipant
	}
	state.Breakout = breakoutID
	s.mu.Unlock()

	s.router.AssignBreakout(sessionID, userID, breakoutID)

	// The main session learns the participant moved.
	s.router.ToRoom(sessionID.Room(), domain.Event{
		Type:    domain.EventBreakoutMoved,
		Payload: BreakoutMovedPayload{SessionID: sessionID, UserID: userID, BreakoutID: breakoutID},
	}, "")
	return nil
}

func (s *sessionService) LeaveBreakout(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, ok := s.participants[sessionID][userID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotParticipant
	}
	state.Breakout = ""
	s.mu.Unlock()

	s.router.ClearBreakout(sessionID, userID)

	s.router.ToRoom(sessionID.Room(), domain.Event{
		Type:    domain.EventBreakoutMoved,
		Payload: BreakoutMovedPayload{SessionID: sessionID, UserID: userID},
	}, "")
	return nil
}

func (s *sessionService) RelaySignal(ctx context.Context, connID domain.ConnectionID, env *domain.SignalingEnvelope) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if !env.Kind.Valid() {
		return apperrors.NewInvalidInput("unknown signal kind")
	}
	if env.To == "" {
		return apperrors.NewInvalidInput("signal target is required")
	}

	s.mu.RLock()
	_, isParticipant := s.participants[env.SessionID][userID]
	s.mu.RUnlock()
	if !isParticipant {
		return domain.ErrNotParticipant
	}

	// The from field is always the authenticated sender, whatever the
	// client claimed.
	env.From = userID

	delivered := s.router.ToUser(env.To, domain.Event{
		Type:    domain.EventWebRTCSignal,
		Payload: env,
	})
	if delivered == 0 {
		// Offline target: silent drop, the media layer retries or fails.
		s.metrics.SignalDropped()
		s.logger.Debugw("signal dropped, target offline",
			"session_id", env.SessionID, "from", env.From, "to", env.To, "kind", env.Kind)
	}
	return nil
}

func (s *sessionService) ForceMute(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, target domain.UserID) error {
	actorID, err := s.requireHost(ctx, connID, sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, ok := s.participants[sessionID][target]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotParticipant
	}
	state.Muted = true
	s.mu.Unlock()

	muted := true
	s.router.ToRoom(sessionID.Room(), domain.Event{
		Type: domain.EventParticipantState,
		Payload: StateChangedPayload{
			SessionID: sessionID,
			UserID:    target,
			Muted:     &muted,
			ChangedBy: actorID,
		},
	}, "")
	return nil
}

func (s *sessionService) RemoveParticipant(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, target domain.UserID) error {
	actorID, err := s.requireHost(ctx, connID, sessionID)
	if err != nil {
		return err
	}

	room := sessionID.Room()
	removed := false
	for _, targetConn := range s.registry.ConnectionsForUser(target) {
		if !s.registry.HasJoined(targetConn, room) {
			continue
		}
		s.registry.LeaveRoom(targetConn, room)
		if s.presence.Leave(room, target) {
			removed = true
		}
	}
	if !removed {
		s.mu.RLock()
		_, present := s.participants[sessionID][target]
		s.mu.RUnlock()
		if !present {
			return domain.ErrNotParticipant
		}
	}

	s.logger.Infow("participant removed from session",
		"session_id", sessionID, "target", target, "removed_by", actorID)
	s.removeParticipantState(ctx, sessionID, target, "removed")
	return nil
}

func (s *sessionService) EndSession(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error {
	actorID, err := s.requireHost(ctx, connID, sessionID)
	if err != nil {
		return err
	}

	room := sessionID.Room()

	// Everyone hears the end before any accounting is torn down.
	s.router.ToRoom(room, domain.Event{
		Type:    domain.EventSessionEnded,
		Payload: SessionEndedPayload{SessionID: sessionID, EndedBy: actorID},
	}, "")

	s.mu.Lock()
	users := make([]domain.UserID, 0, len(s.participants[sessionID]))
	for uid := range s.participants[sessionID] {
		users = append(users, uid)
	}
	delete(s.participants, sessionID)
	live := len(s.participants)
	s.mu.Unlock()

	for _, cID := range s.registry.RoomConnections(room) {
		uid, _, idErr := s.registry.Identity(cID)
		s.registry.LeaveRoom(cID, room)
		if idErr == nil {
			s.presence.Leave(room, uid)
		}
	}
	for _, uid := range users {
		if err := s.sessions.PersistParticipant(ctx, sessionID, uid, false); err != nil {
			s.logger.Warnw("failed to record session leave", "session_id", sessionID, "user_id", uid, "error", err)
		}
	}

	s.router.DropSession(sessionID)
	s.metrics.SetSessionsLive(live)
	s.logger.Infow("session ended", "session_id", sessionID, "ended_by", actorID)
	return nil
}

func (s *sessionService) ParticipantDropped(sessionID domain.SessionID, userID domain.UserID, lastConnection bool) {
	if !lastConnection {
		return
	}
	s.removeParticipantState(context.Background(), sessionID, userID, "disconnected")
}

func (s *sessionService) removeParticipantState(ctx context.Context, sessionID domain.SessionID, userID domain.UserID, reason string) {
	s.mu.Lock()
	session, ok := s.participants[sessionID]
	if ok {
		delete(session, userID)
		if len(session) == 0 {
			delete(s.participants, sessionID)
		}
	}
	live := len(s.participants)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.router.ClearBreakout(sessionID, userID)
	s.metrics.SetSessionsLive(live)

	if err := s.sessions.PersistParticipant(ctx, sessionID, userID, false); err != nil {
		s.logger.Warnw("failed to record session leave",
			"session_id", sessionID, "user_id", userID, "error", err)
	}

	ev := domain.Event{
		Type:    domain.EventParticipantLeft,
		Payload: ParticipantLeftPayload{SessionID: sessionID, UserID: userID, Reason: reason},
	}
	s.router.ToRoom(sessionID.Room(), ev, "")
	if reason == "removed" {
		// The removed user is already out of the room scope; tell them
		// directly.
		s.router.ToUser(userID, ev)
	}
}

func (s *sessionService) requireHost(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) (domain.UserID, error) {
	actorID, _, err := s.registry.Identity(connID)
	if err != nil {
		return "", err
	}
	isHost, err := s.sessions.IsHost(ctx, sessionID, actorID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "session directory unavailable", 503)
	}
	if !isHost {
		return "", domain.ErrPermissionDenied
	}
	return actorID, nil
}

func applyChange(state *domain.ParticipantState, change ports.StateChange, payload *StateChangedPayload) {
	if change.Muted != nil {
		state.Muted = *change.Muted
		payload.Muted = change.Muted
	}
	if change.VideoDisabled != nil {
		state.VideoDisabled = *change.VideoDisabled
		payload.VideoDisabled = change.VideoDisabled
	}
	if change.ScreenSharing != nil {
		state.ScreenSharing = *change.ScreenSharing
		payload.ScreenSharing = change.ScreenSharing
	}
	if change.HandRaised != nil {
		state.HandRaised = *change.HandRaised
		payload.HandRaised = change.HandRaised
	}
}

func statePayload(state *domain.ParticipantState) ParticipantStatePayload {
	return ParticipantStatePayload{
		SessionID:     state.SessionID,
		UserID:        state.UserID,
		Muted:         state.Muted,
		VideoDisabled: state.VideoDisabled,
		ScreenSharing: state.ScreenSharing,
		HandRaised:    state.HandRaised,
		BreakoutID:    state.Breakout,
	}
}
