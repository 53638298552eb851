package realtime

import (
	"sync"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
)

// Presence tracks the live online set per room. Entries are reference
// counts per user so multi-device users stay present until their last
// connection leaves the room.
type Presence struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]int
	users map[domain.UserID]int // total refs across all rooms
}

func NewPresence() *Presence {
	return &Presence{
		rooms: make(map[domain.RoomID]map[domain.UserID]int),
		users: make(map[domain.UserID]int),
	}
}

var _ ports.PresenceTracker = (*Presence)(nil)

// Join adds one connection reference and reports whether the user just
// became present in the room.
func (p *Presence) Join(roomID domain.RoomID, userID domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rooms[roomID] == nil {
		p.rooms[roomID] = make(map[domain.UserID]int)
	}
	p.rooms[roomID][userID]++
	p.users[userID]++
	return p.rooms[roomID][userID] == 1
}

// Leave drops one connection reference and reports whether the user is now
// fully gone from the room.
func (p *Presence) Leave(roomID domain.RoomID, userID domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok || room[userID] == 0 {
		return false
	}

	room[userID]--
	if p.users[userID] > 0 {
		p.users[userID]--
		if p.users[userID] == 0 {
			delete(p.users, userID)
		}
	}
	if room[userID] > 0 {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(p.rooms, roomID)
	}
	return true
}

func (p *Presence) OnlineUsers(roomID domain.RoomID) []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	room, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]domain.UserID, 0, len(room))
	for userID := range room {
		users = append(users, userID)
	}
	return users
}

func (p *Presence) IsOnline(userID domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users[userID] > 0
}

func (p *Presence) RoomCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms)
}
