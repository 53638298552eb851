package memory

import (
	"context"
	"sync"

	"edulive/internal/core/domain"
)

type sessionRecord struct {
	hostID   domain.UserID
	capacity int
	joined   map[domain.UserID]bool
}

// MemorySessionDirectory tracks configured video sessions in process.
// Sessions must be created before anyone can join them; capacity 0 means
// unlimited.
type MemorySessionDirectory struct {
	sessions map[domain.SessionID]*sessionRecord
	mu       sync.RWMutex
}

func NewMemorySessionDirectory() *MemorySessionDirectory {
	return &MemorySessionDirectory{
		sessions: make(map[domain.SessionID]*sessionRecord),
	}
}

// CreateSession registers a session with its host and capacity.
func (d *MemorySessionDirectory) CreateSession(sessionID domain.SessionID, hostID domain.UserID, capacity int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessions[sessionID] = &sessionRecord{
		hostID:   hostID,
		capacity: capacity,
		joined:   make(map[domain.UserID]bool),
	}
}

func (d *MemorySessionDirectory) CanJoin(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, exists := d.sessions[sessionID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	if rec.joined[userID] {
		return nil
	}
	if rec.capacity > 0 && len(rec.joined) >= rec.capacity {
		return domain.ErrSessionFull
	}
	return nil
}

func (d *MemorySessionDirectory) IsHost(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, exists := d.sessions[sessionID]
	if !exists {
		return false, domain.ErrSessionNotFound
	}
	return rec.hostID == userID, nil
}

func (d *MemorySessionDirectory) PersistParticipant(ctx context.Context, sessionID domain.SessionID, userID domain.UserID, joined bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, exists := d.sessions[sessionID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	if joined {
		rec.joined[userID] = true
	} else {
		delete(rec.joined, userID)
	}
	return nil
}
