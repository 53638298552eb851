package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
	"edulive/internal/core/services"
	"edulive/internal/infrastructure/monitoring"
	apperrors "edulive/pkg/errors"
	"edulive/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options carries the transport tunables from config.
type Options struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendQueueSize     int
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageSize    int64
}

func DefaultOptions() Options {
	return Options{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendQueueSize:     64,
		MessagesPerSecond: 50,
		MessageBurst:      100,
		MaxMessageSize:    64 * 1024,
	}
}

// Command is one inbound client frame.
type Command struct {
	Type       string            `json:"type"`
	RoomID     domain.RoomID     `json:"room_id,omitempty"`
	SessionID  domain.SessionID  `json:"session_id,omitempty"`
	BreakoutID domain.BreakoutID `json:"breakout_id,omitempty"`
	MessageID  domain.MessageID  `json:"message_id,omitempty"`
	ThreadID   domain.MessageID  `json:"thread_id,omitempty"`
	TempID     string            `json:"temp_id,omitempty"`
	Content    string            `json:"content,omitempty"`
	Emoji      string            `json:"emoji,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Target     domain.UserID     `json:"target,omitempty"`
	Kind       domain.SignalKind `json:"kind,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Command string              `json:"command,omitempty"`
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

type SessionJoinedPayload struct {
	SessionID    domain.SessionID                   `json:"session_id"`
	ICEServers   []webrtc.ICEServer                 `json:"ice_servers"`
	Participants []services.ParticipantStatePayload `json:"participants"`
}

type client struct {
	connID domain.ConnectionID
	userID domain.UserID
	conn   *websocket.Conn
	send   chan domain.Event

	closeOnce sync.Once
}

func (c *client) enqueue(ev domain.Event) error {
	select {
	case c.send <- ev:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// WebSocketServer is the gateway transport: it authenticates handshakes,
// owns the per-connection read loop and write pump, dispatches inbound
// commands to the chat and session services, and runs the disconnect
// cascade.
type WebSocketServer struct {
	auth     services.AuthService
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
	router   ports.Broadcaster
	typing   ports.TypingNotifier
	chat     ports.ChatService
	sessions ports.SessionService

	opts    Options
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	clients map[domain.ConnectionID]*client
	wg      sync.WaitGroup
	closing bool
}

func NewWebSocketServer(
	auth services.AuthService,
	registry ports.ConnectionRegistry,
	presence ports.PresenceTracker,
	router ports.Broadcaster,
	typing ports.TypingNotifier,
	chat ports.ChatService,
	sessions ports.SessionService,
	opts Options,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		auth:     auth,
		registry: registry,
		presence: presence,
		router:   router,
		typing:   typing,
		chat:     chat,
		sessions: sessions,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		clients:  make(map[domain.ConnectionID]*client),
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authentication happens before the upgrade: a rejected handshake
	// creates no state at all.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := s.auth.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	connID := domain.ConnectionID(utils.GenerateConnectionID())
	c := &client{
		connID: connID,
		userID: claims.UserID,
		conn:   conn,
		send:   make(chan domain.Event, s.opts.SendQueueSize),
	}

	if err := s.registry.Register(connID, claims.UserID, claims.Role, c.enqueue); err != nil {
		s.logger.Errorw("connection registration failed", "conn_id", connID, "error", err)
		conn.Close()
		return
	}

	s.mu.Lock()
	s.clients[connID] = c
	s.mu.Unlock()
	s.wg.Add(1)
	s.metrics.ConnectionOpened()

	s.logger.Infow("client connected", "conn_id", connID, "user_id", claims.UserID, "role", claims.Role)

	go s.writePump(c)
	s.readLoop(c)
}

func (s *WebSocketServer) readLoop(c *client) {
	defer s.cleanup(c)

	conn := c.conn
	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.MessageBurst)

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error", "conn_id", c.connID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if !limiter.Allow() {
			c.enqueue(domain.Event{
				Type:    domain.EventError,
				Payload: ErrorPayload{Command: cmd.Type, Code: apperrors.ErrCodeRateLimit, Message: "too many messages"},
			})
			continue
		}

		start := time.Now()
		err := s.dispatch(context.Background(), c, cmd)
		s.metrics.CommandHandled(cmd.Type, err, time.Since(start))

		if err != nil {
			s.sendCommandError(c, cmd.Type, err)
		}
	}
}

func (s *WebSocketServer) dispatch(ctx context.Context, c *client, cmd Command) error {
	connID := c.connID

	switch cmd.Type {
	case "join_room":
		return s.chat.JoinRoom(ctx, connID, cmd.RoomID)
	case "leave_room":
		return s.chat.LeaveRoom(ctx, connID, cmd.RoomID)
	case "send_message":
		return s.chat.SendMessage(ctx, connID, cmd.RoomID, cmd.TempID, cmd.Content, cmd.ThreadID)
	case "edit_message":
		return s.chat.EditMessage(ctx, connID, cmd.RoomID, cmd.MessageID, cmd.Content)
	case "delete_message":
		return s.chat.DeleteMessage(ctx, connID, cmd.RoomID, cmd.MessageID)
	case "typing_start":
		return s.chat.Typing(ctx, connID, cmd.RoomID, true)
	case "typing_stop":
		return s.chat.Typing(ctx, connID, cmd.RoomID, false)
	case "add_reaction":
		return s.chat.AddReaction(ctx, connID, cmd.RoomID, cmd.MessageID, cmd.Emoji)
	case "remove_reaction":
		return s.chat.RemoveReaction(ctx, connID, cmd.RoomID, cmd.MessageID, cmd.Emoji)
	case "mark_read":
		return s.chat.MarkRead(ctx, connID, cmd.RoomID, cmd.MessageID)

	case "join_session":
		info, err := s.sessions.Join(ctx, connID, cmd.SessionID)
		if err != nil {
			return err
		}
		// Connection details go to the joiner only.
		participants := make([]services.ParticipantStatePayload, 0, len(info.Participants))
		for i := range info.Participants {
			p := info.Participants[i]
			participants = append(participants, services.ParticipantStatePayload{
				SessionID:     p.SessionID,
				UserID:        p.UserID,
				Muted:         p.Muted,
				VideoDisabled: p.VideoDisabled,
				ScreenSharing: p.ScreenSharing,
				HandRaised:    p.HandRaised,
				BreakoutID:    p.Breakout,
			})
		}
		return c.enqueue(domain.Event{
			Type: domain.EventSessionJoined,
			Payload: SessionJoinedPayload{
				SessionID:    info.SessionID,
				ICEServers:   info.ICEServers,
				Participants: participants,
			},
		})
	case "leave_session":
		return s.sessions.Leave(ctx, connID, cmd.SessionID)
	case "toggle_mute":
		return s.toggle(ctx, connID, cmd, func(v *bool) ports.StateChange { return ports.StateChange{Muted: v} })
	case "toggle_video":
		return s.toggle(ctx, connID, cmd, func(v *bool) ports.StateChange { return ports.StateChange{VideoDisabled: v} })
	case "toggle_screen_share":
		return s.toggle(ctx, connID, cmd, func(v *bool) ports.StateChange { return ports.StateChange{ScreenSharing: v} })
	case "raise_hand":
		return s.toggle(ctx, connID, cmd, func(v *bool) ports.StateChange { return ports.StateChange{HandRaised: v} })
	case "webrtc_signal":
		return s.sessions.RelaySignal(ctx, connID, &domain.SignalingEnvelope{
			SessionID: cmd.SessionID,
			To:        cmd.Target,
			Kind:      cmd.Kind,
			Payload:   cmd.Payload,
		})
	case "join_breakout_room":
		return s.sessions.JoinBreakout(ctx, connID, cmd.SessionID, cmd.BreakoutID)
	case "leave_breakout_room":
		return s.sessions.LeaveBreakout(ctx, connID, cmd.SessionID)
	case "mute_participant":
		return s.sessions.ForceMute(ctx, connID, cmd.SessionID, cmd.Target)
	case "remove_participant":
		return s.sessions.RemoveParticipant(ctx, connID, cmd.SessionID, cmd.Target)
	case "end_session":
		return s.sessions.EndSession(ctx, connID, cmd.SessionID)

	default:
		return apperrors.NewInvalidInput("unknown command type: " + cmd.Type)
	}
}

func (s *WebSocketServer) toggle(ctx context.Context, connID domain.ConnectionID, cmd Command, build func(*bool) ports.StateChange) error {
	if cmd.Enabled == nil {
		return apperrors.NewInvalidInput(cmd.Type + " requires an enabled flag")
	}
	return s.sessions.UpdateState(ctx, connID, cmd.SessionID, build(cmd.Enabled))
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				s.logger.Infow("write error", "conn_id", c.connID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// cleanup runs the disconnect cascade: the connection stops accepting
// commands, derived ephemeral state is removed (typing indicators first,
// so no typing=true outlives its owner), and only then are departure
// events broadcast.
func (s *WebSocketServer) cleanup(c *client) {
	defer s.wg.Done()

	rooms, err := s.registry.BeginClose(c.connID)
	if err == nil {
		for _, roomID := range rooms {
			last := s.presence.Leave(roomID, c.userID)
			if sessionID, ok := domain.SessionFromRoom(roomID); ok {
				s.sessions.ParticipantDropped(sessionID, c.userID, last)
				continue
			}
			if last {
				s.typing.CancelRoomUser(roomID, c.userID)
				s.router.ToRoom(roomID, domain.Event{
					Type: domain.EventUserLeft,
					Payload: services.RoomPresencePayload{
						RoomID: roomID,
						UserID: c.userID,
					},
				}, c.connID)
			}
		}
	}
	s.registry.Deregister(c.connID)

	s.mu.Lock()
	delete(s.clients, c.connID)
	s.mu.Unlock()

	c.close()
	s.metrics.ConnectionClosed()
	s.metrics.SetRoomsOccupied(s.presence.RoomCount())

	s.logger.Infow("client disconnected", "conn_id", c.connID, "user_id", c.userID)
}

// Shutdown closes every open connection with disconnect semantics so
// room and session accounting stays consistent across a restart, then
// waits for the cascades to finish.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) sendCommandError(c *client, command string, err error) {
	if errors.Is(err, domain.ErrConnectionClosing) || errors.Is(err, domain.ErrConnectionNotFound) {
		return
	}
	code, message := classifyError(err)
	c.enqueue(domain.Event{
		Type:    domain.EventError,
		Payload: ErrorPayload{Command: command, Code: code, Message: message},
	})
}

func classifyError(err error) (apperrors.ErrorCode, string) {
	if appErr := apperrors.FromError(err); appErr != nil {
		return appErr.Code, appErr.Message
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotJoined):
		return apperrors.ErrCodePrecondition, "must join room first"
	case errors.Is(err, domain.ErrNotParticipant):
		return apperrors.ErrCodePrecondition, "not a session participant"
	case errors.Is(err, domain.ErrSessionFull):
		return apperrors.ErrCodePrecondition, "session is full"
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrPermissionDenied):
		return apperrors.ErrCodeForbidden, err.Error()
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.ErrCodeNotFound, err.Error()
	default:
		return apperrors.ErrCodeInternal, "internal error"
	}
}
