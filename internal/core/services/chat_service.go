package services

import (
	"context"
	"errors"
	"time"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
	"edulive/pkg/circuitbreaker"
	apperrors "edulive/pkg/errors"
	"edulive/pkg/retry"
	"edulive/pkg/utils"
	"edulive/pkg/validation"

	"go.uber.org/zap"
)

// Outbound payload shapes for chat events.

type MessagePayload struct {
	ID        domain.MessageID `json:"id"`
	RoomID    domain.RoomID    `json:"room_id"`
	AuthorID  domain.UserID    `json:"author_id"`
	Content   string           `json:"content"`
	ThreadID  domain.MessageID `json:"thread_id,omitempty"`
	Edited    bool             `json:"edited"`
	CreatedAt time.Time        `json:"created_at"`
	EditedAt  *time.Time       `json:"edited_at,omitempty"`
}

type MessageAckPayload struct {
	TempID    string           `json:"temp_id"`
	MessageID domain.MessageID `json:"message_id"`
	RoomID    domain.RoomID    `json:"room_id"`
	CreatedAt time.Time        `json:"created_at"`
}

type MessageBlockedPayload struct {
	TempID     string        `json:"temp_id,omitempty"`
	RoomID     domain.RoomID `json:"room_id"`
	Reason     string        `json:"reason,omitempty"`
	Severity   string        `json:"severity,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID domain.MessageID `json:"message_id"`
	RoomID    domain.RoomID    `json:"room_id"`
	DeletedBy domain.UserID    `json:"deleted_by"`
}

type ReactionPayload struct {
	MessageID domain.MessageID `json:"message_id"`
	RoomID    domain.RoomID    `json:"room_id"`
	UserID    domain.UserID    `json:"user_id"`
	Emoji     string           `json:"emoji"`
}

type ReadReceiptPayload struct {
	RoomID    domain.RoomID    `json:"room_id"`
	UserID    domain.UserID    `json:"user_id"`
	MessageID domain.MessageID `json:"message_id"`
}

type RoomPresencePayload struct {
	RoomID domain.RoomID `json:"room_id"`
	UserID domain.UserID `json:"user_id"`
}

// chatService processes chat-room commands. All validation happens before
// any collaborator call, moderation runs before persistence, and broadcast
// happens strictly after both succeed; no operation ever fans out a
// partial result.
type chatService struct {
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
	router   ports.Broadcaster
	typing   ports.TypingNotifier

	messages  ports.MessageRepository
	rooms     ports.RoomDirectory
	moderator ports.Moderator

	// Persistence retries transparently; the moderation classifier sits
	// behind a breaker so a dead classifier fails fast instead of stalling
	// every send.
	retryCfg retry.Config
	breaker  *circuitbreaker.CircuitBreaker

	metrics ports.Instrumentation
	logger  *zap.SugaredLogger
}

func NewChatService(
	registry ports.ConnectionRegistry,
	presence ports.PresenceTracker,
	router ports.Broadcaster,
	typing ports.TypingNotifier,
	messages ports.MessageRepository,
	rooms ports.RoomDirectory,
	moderator ports.Moderator,
	retryCfg retry.Config,
	breaker *circuitbreaker.CircuitBreaker,
	metrics ports.Instrumentation,
	logger *zap.SugaredLogger,
) ports.ChatService {
	if metrics == nil {
		metrics = ports.NopInstrumentation{}
	}
	retryCfg.NonRetryableErrors = append(retryCfg.NonRetryableErrors,
		domain.ErrMessageNotFound, domain.ErrAccessDenied, domain.ErrPermissionDenied)
	return &chatService{
		registry:  registry,
		presence:  presence,
		router:    router,
		typing:    typing,
		messages:  messages,
		rooms:     rooms,
		moderator: moderator,
		retryCfg:  retryCfg,
		breaker:   breaker,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *chatService) JoinRoom(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if err := validation.ValidateID(string(roomID), "room_id"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid join_room command", 400)
	}

	allowed, err := s.rooms.CheckAccess(ctx, roomID, userID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "room directory unavailable", 503)
	}
	if !allowed {
		return domain.ErrAccessDenied
	}

	isNew, err := s.registry.JoinRoom(connID, roomID)
	if err != nil {
		return err
	}
	if !isNew {
		// Repeated join on the same connection: the presence refcount
		// already accounts for it.
		return nil
	}

	// First device in: announce the user. Later devices join silently.
	if s.presence.Join(roomID, userID) {
		s.router.ToRoom(roomID, domain.Event{
			Type:    domain.EventUserJoined,
			Payload: RoomPresencePayload{RoomID: roomID, UserID: userID},
		}, connID)
	}
	return nil
}

func (s *chatService) LeaveRoom(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	s.registry.LeaveRoom(connID, roomID)
	if s.presence.Leave(roomID, userID) {
		// Typing clears before the departure is announced.
		s.typing.CancelRoomUser(roomID, userID)
		s.router.ToRoom(roomID, domain.Event{
			Type:    domain.EventUserLeft,
			Payload: RoomPresencePayload{RoomID: roomID, UserID: userID},
		}, connID)
	}
	return nil
}

func (s *chatService) SendMessage(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, tempID, content string, threadID domain.MessageID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if err := validation.ValidateID(string(roomID), "room_id"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid send_message command", 400)
	}
	if err := validation.ValidateMessageContent(content); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid message content", 400)
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	verdict, err := s.moderate(ctx, content, roomID, userID)
	if err != nil {
		return err
	}
	if verdict.Blocked {
		s.metrics.MessageBlocked()
		s.logger.Infow("message blocked by moderation",
			"room_id", roomID, "user_id", userID, "reason", verdict.Reason, "severity", verdict.Severity)
		s.sendPrivate(connID, domain.Event{
			Type: domain.EventMessageBlocked,
			Payload: MessageBlockedPayload{
				TempID:     tempID,
				RoomID:     roomID,
				Reason:     verdict.Reason,
				Severity:   verdict.Severity,
				Confidence: verdict.Confidence,
			},
		})
		return nil
	}

	msg := &domain.Message{
		ID:        domain.MessageID(utils.GenerateMessageID()),
		RoomID:    roomID,
		AuthorID:  userID,
		Content:   content,
		ThreadID:  threadID,
		CreatedAt: time.Now().UTC(),
	}
	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.messages.Persist(ctx, msg)
	}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to persist message", 503)
	}

	// Sending a message implies the author stopped typing.
	s.typing.CancelRoomUser(roomID, userID)

	// Scope-aware fan-out: a sender assigned to a breakout chats only with
	// breakout co-members.
	s.router.ToRoomFrom(roomID, userID, domain.Event{
		Type:    domain.EventNewMessage,
		Payload: messagePayload(msg),
	}, connID)
	s.sendPrivate(connID, domain.Event{
		Type: domain.EventMessageSent,
		Payload: MessageAckPayload{
			TempID:    tempID,
			MessageID: msg.ID,
			RoomID:    roomID,
			CreatedAt: msg.CreatedAt,
		},
	})
	return nil
}

func (s *chatService) EditMessage(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, content string) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if err := validation.ValidateMessageContent(content); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid message content", 400)
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	msg, err := s.loadMessage(ctx, roomID, messageID)
	if err != nil {
		return err
	}
	if err := s.requireAuthorOrModerator(ctx, msg, roomID, userID); err != nil {
		return err
	}

	// Edited content goes back through moderation.
	verdict, err := s.moderate(ctx, content, roomID, userID)
	if err != nil {
		return err
	}
	if verdict.Blocked {
		s.metrics.MessageBlocked()
		s.sendPrivate(connID, domain.Event{
			Type: domain.EventMessageBlocked,
			Payload: MessageBlockedPayload{
				RoomID:     roomID,
				Reason:     verdict.Reason,
				Severity:   verdict.Severity,
				Confidence: verdict.Confidence,
			},
		})
		return nil
	}

	now := time.Now().UTC()
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &now
	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.messages.Update(ctx, msg)
	}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to update message", 503)
	}

	s.router.ToRoomFrom(roomID, userID, domain.Event{
		Type:    domain.EventMessageEdited,
		Payload: messagePayload(msg),
	}, "")
	return nil
}

func (s *chatService) DeleteMessage(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	msg, err := s.loadMessage(ctx, roomID, messageID)
	if err != nil {
		return err
	}
	if err := s.requireAuthorOrModerator(ctx, msg, roomID, userID); err != nil {
		return err
	}

	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.messages.MarkDeleted(ctx, messageID)
	}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to delete message", 503)
	}

	s.router.ToRoomFrom(roomID, userID, domain.Event{
		Type:    domain.EventMessageDeleted,
		Payload: MessageDeletedPayload{MessageID: messageID, RoomID: roomID, DeletedBy: userID},
	}, "")
	return nil
}

func (s *chatService) AddReaction(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, emoji string) error {
	return s.toggleReaction(ctx, connID, roomID, messageID, emoji, true)
}

func (s *chatService) RemoveReaction(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, emoji string) error {
	return s.toggleReaction(ctx, connID, roomID, messageID, emoji, false)
}

func (s *chatService) toggleReaction(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID, emoji string, add bool) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if err := validation.ValidateEmoji(emoji); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid reaction", 400)
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	reaction := &domain.Reaction{MessageID: messageID, RoomID: roomID, UserID: userID, Emoji: emoji}
	changed, err := retry.DoWithResult(ctx, s.retryCfg, func() (bool, error) {
		if add {
			return s.messages.AddReaction(ctx, reaction)
		}
		return s.messages.RemoveReaction(ctx, reaction)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to store reaction", 503)
	}
	if !changed {
		// Idempotent per (message, user, emoji): nothing to announce.
		return nil
	}

	evType := domain.EventReactionAdded
	if !add {
		evType = domain.EventReactionRemoved
	}
	// Delta only; clients fold it into their local reaction sets.
	s.router.ToRoomFrom(roomID, userID, domain.Event{
		Type:    evType,
		Payload: ReactionPayload{MessageID: messageID, RoomID: roomID, UserID: userID, Emoji: emoji},
	}, "")
	return nil
}

func (s *chatService) Typing(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, active bool) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	if active {
		s.typing.Start(roomID, userID)
	} else {
		s.typing.Stop(roomID, userID)
	}
	return nil
}

func (s *chatService) MarkRead(ctx context.Context, connID domain.ConnectionID, roomID domain.RoomID, messageID domain.MessageID) error {
	userID, _, err := s.registry.Identity(connID)
	if err != nil {
		return err
	}
	if !s.registry.HasJoined(connID, roomID) {
		return domain.ErrRoomNotJoined
	}

	// Pass-through: read receipts carry no persistence.
	s.router.ToRoomFrom(roomID, userID, domain.Event{
		Type:    domain.EventMessageRead,
		Payload: ReadReceiptPayload{RoomID: roomID, UserID: userID, MessageID: messageID},
	}, connID)
	return nil
}

func (s *chatService) moderate(ctx context.Context, content string, roomID domain.RoomID, userID domain.UserID) (domain.ModerationVerdict, error) {
	var verdict domain.ModerationVerdict
	err := s.breaker.Execute(ctx, func() error {
		var merr error
		verdict, merr = s.moderator.CheckMessage(ctx, content, roomID, userID)
		return merr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			s.metrics.ModerationOutage()
		}
		return verdict, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "moderation unavailable", 503)
	}
	return verdict, nil
}

func (s *chatService) loadMessage(ctx context.Context, roomID domain.RoomID, messageID domain.MessageID) (*domain.Message, error) {
	msg, err := retry.DoWithResult(ctx, s.retryCfg, func() (*domain.Message, error) {
		return s.messages.GetByID(ctx, messageID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to load message", 503)
	}
	// Deleted is terminal; a message from another room is invisible here.
	if msg.Deleted || msg.RoomID != roomID {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

func (s *chatService) requireAuthorOrModerator(ctx context.Context, msg *domain.Message, roomID domain.RoomID, userID domain.UserID) error {
	if msg.AuthorID == userID {
		return nil
	}
	isMod, err := s.rooms.IsModerator(ctx, roomID, userID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "room directory unavailable", 503)
	}
	if !isMod {
		return domain.ErrPermissionDenied
	}
	return nil
}

func (s *chatService) sendPrivate(connID domain.ConnectionID, ev domain.Event) {
	if err := s.router.ToConnection(connID, ev); err != nil {
		s.logger.Warnw("private event delivery failed", "conn_id", connID, "event", ev.Type, "error", err)
	}
}

func messagePayload(msg *domain.Message) MessagePayload {
	return MessagePayload{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		ThreadID:  msg.ThreadID,
		Edited:    msg.Edited,
		CreatedAt: msg.CreatedAt,
		EditedAt:  msg.EditedAt,
	}
}
