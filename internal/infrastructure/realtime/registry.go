package realtime

import (
	"sync"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"

	"go.uber.org/zap"
)

type connection struct {
	id      domain.ConnectionID
	userID  domain.UserID
	role    domain.Role
	send    ports.Sender
	rooms   map[domain.RoomID]struct{}
	closing bool
}

// Registry is the single owner of connection state: identity, joined
// scopes and the per-connection sender. A userID index avoids scanning
// the connection table to find a user's connections.
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*connection
	byUser map[domain.UserID]map[domain.ConnectionID]struct{}
	byRoom map[domain.RoomID]map[domain.ConnectionID]struct{}

	logger *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		conns:  make(map[domain.ConnectionID]*connection),
		byUser: make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		byRoom: make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
		logger: logger,
	}
}

var _ ports.ConnectionRegistry = (*Registry)(nil)

func (r *Registry) Register(connID domain.ConnectionID, userID domain.UserID, role domain.Role, send ports.Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[connID]; ok {
		if existing.userID != userID {
			return domain.ErrIdentityMismatch
		}
		// Idempotent re-register keeps the existing scope set.
		existing.role = role
		existing.send = send
		return nil
	}

	r.conns[connID] = &connection{
		id:     connID,
		userID: userID,
		role:   role,
		send:   send,
		rooms:  make(map[domain.RoomID]struct{}),
	}
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[domain.ConnectionID]struct{})
	}
	r.byUser[userID][connID] = struct{}{}

	r.logger.Infow("connection registered", "conn_id", connID, "user_id", userID, "role", role)
	return nil
}

// BeginClose marks the connection as closing so command dispatch rejects
// anything that races with the disconnect cascade, and returns the scopes
// the connection had joined.
func (r *Registry) BeginClose(connID domain.ConnectionID) ([]domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	conn.closing = true

	rooms := make([]domain.RoomID, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

func (r *Registry) Deregister(connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}

	for roomID := range conn.rooms {
		r.removeFromRoom(connID, roomID)
	}
	if userConns, ok := r.byUser[conn.userID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.userID)
		}
	}
	delete(r.conns, connID)

	r.logger.Infow("connection deregistered", "conn_id", connID, "user_id", conn.userID)
}

// JoinRoom adds the connection to a room scope and reports whether the
// pair is new. A repeated join changes nothing; callers use the report to
// keep presence refcounts aligned with the scope set.
func (r *Registry) JoinRoom(connID domain.ConnectionID, roomID domain.RoomID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false, domain.ErrConnectionNotFound
	}
	if conn.closing {
		return false, domain.ErrConnectionClosing
	}
	if _, joined := conn.rooms[roomID]; joined {
		return false, nil
	}

	conn.rooms[roomID] = struct{}{}
	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[domain.ConnectionID]struct{})
	}
	r.byRoom[roomID][connID] = struct{}{}
	return true, nil
}

func (r *Registry) LeaveRoom(connID domain.ConnectionID, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(conn.rooms, roomID)
	r.removeFromRoom(connID, roomID)
}

func (r *Registry) HasJoined(connID domain.ConnectionID, roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, joined := conn.rooms[roomID]
	return joined
}

func (r *Registry) JoinedRooms(connID domain.ConnectionID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]domain.RoomID, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Identity resolves the connection's authenticated identity. A closing
// connection accepts no further commands.
func (r *Registry) Identity(connID domain.ConnectionID) (domain.UserID, domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", "", domain.ErrConnectionNotFound
	}
	if conn.closing {
		return "", "", domain.ErrConnectionClosing
	}
	return conn.userID, conn.role, nil
}

func (r *Registry) ConnectionsForUser(userID domain.UserID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	conns := make([]domain.ConnectionID, 0, len(userConns))
	for connID := range userConns {
		conns = append(conns, connID)
	}
	return conns
}

func (r *Registry) RoomsForUser(userID domain.UserID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.RoomID]struct{})
	for connID := range r.byUser[userID] {
		if conn, ok := r.conns[connID]; ok {
			for roomID := range conn.rooms {
				seen[roomID] = struct{}{}
			}
		}
	}
	rooms := make([]domain.RoomID, 0, len(seen))
	for roomID := range seen {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (r *Registry) RoomConnections(roomID domain.RoomID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomConns, ok := r.byRoom[roomID]
	if !ok {
		return nil
	}
	conns := make([]domain.ConnectionID, 0, len(roomConns))
	for connID := range roomConns {
		conns = append(conns, connID)
	}
	return conns
}

// Send delivers one event to a single connection. Closing connections
// still receive deliveries until deregistered so that broadcasts from
// already-committed operations reach them.
func (r *Registry) Send(connID domain.ConnectionID, ev domain.Event) error {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		return domain.ErrConnectionNotFound
	}
	return conn.send(ev)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserForConnection resolves the owning user regardless of closing state,
// for use by the disconnect cascade itself.
func (r *Registry) UserForConnection(connID domain.ConnectionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return conn.userID, true
}

// caller must hold r.mu
func (r *Registry) removeFromRoom(connID domain.ConnectionID, roomID domain.RoomID) {
	if roomConns, ok := r.byRoom[roomID]; ok {
		delete(roomConns, connID)
		if len(roomConns) == 0 {
			delete(r.byRoom, roomID)
		}
	}
}
