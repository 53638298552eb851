package memory

import (
	"context"
	"sync"

	"edulive/internal/core/domain"
)

// MemoryRoomDirectory keeps room rosters in process. Rooms that were never
// configured are open to everyone, which is the useful default when the
// platform's room database is not wired in.
type MemoryRoomDirectory struct {
	members    map[domain.RoomID]map[domain.UserID]bool
	moderators map[domain.RoomID]map[domain.UserID]bool
	mu         sync.RWMutex
}

func NewMemoryRoomDirectory() *MemoryRoomDirectory {
	return &MemoryRoomDirectory{
		members:    make(map[domain.RoomID]map[domain.UserID]bool),
		moderators: make(map[domain.RoomID]map[domain.UserID]bool),
	}
}

// SetMembers restricts a room to the given roster.
func (d *MemoryRoomDirectory) SetMembers(roomID domain.RoomID, userIDs ...domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roster := make(map[domain.UserID]bool, len(userIDs))
	for _, id := range userIDs {
		roster[id] = true
	}
	d.members[roomID] = roster
}

// AddModerator grants a user moderator rights in a room.
func (d *MemoryRoomDirectory) AddModerator(roomID domain.RoomID, userID domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.moderators[roomID] == nil {
		d.moderators[roomID] = make(map[domain.UserID]bool)
	}
	d.moderators[roomID][userID] = true
}

func (d *MemoryRoomDirectory) CheckAccess(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	roster, restricted := d.members[roomID]
	if !restricted {
		return true, nil
	}
	return roster[userID], nil
}

func (d *MemoryRoomDirectory) IsModerator(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.moderators[roomID][userID], nil
}
