package memory

import (
	"context"
	"fmt"
	"sync"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
)

type MemoryMessageRepository struct {
	messages  map[domain.MessageID]*domain.Message
	reactions map[domain.MessageID]map[string]map[domain.UserID]bool
	mu        sync.RWMutex
}

func NewMemoryMessageRepository() ports.MessageRepository {
	return &MemoryMessageRepository{
		messages:  make(map[domain.MessageID]*domain.Message),
		reactions: make(map[domain.MessageID]map[string]map[domain.UserID]bool),
	}
}

func (r *MemoryMessageRepository) Persist(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[msg.ID]; exists {
		return fmt.Errorf("message already exists: %s", msg.ID)
	}

	stored := *msg
	r.messages[msg.ID] = &stored
	return nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, domain.ErrMessageNotFound
	}

	copied := *msg
	return &copied, nil
}

func (r *MemoryMessageRepository) Update(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[msg.ID]; !exists {
		return domain.ErrMessageNotFound
	}

	stored := *msg
	r.messages[msg.ID] = &stored
	return nil
}

func (r *MemoryMessageRepository) MarkDeleted(ctx context.Context, id domain.MessageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, exists := r.messages[id]
	if !exists {
		return domain.ErrMessageNotFound
	}

	msg.Deleted = true
	return nil
}

func (r *MemoryMessageRepository) AddReaction(ctx context.Context, reaction *domain.Reaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[reaction.MessageID]; !exists {
		return false, domain.ErrMessageNotFound
	}

	byEmoji, ok := r.reactions[reaction.MessageID]
	if !ok {
		byEmoji = make(map[string]map[domain.UserID]bool)
		r.reactions[reaction.MessageID] = byEmoji
	}
	users, ok := byEmoji[reaction.Emoji]
	if !ok {
		users = make(map[domain.UserID]bool)
		byEmoji[reaction.Emoji] = users
	}

	if users[reaction.UserID] {
		return false, nil
	}
	users[reaction.UserID] = true
	return true, nil
}

func (r *MemoryMessageRepository) RemoveReaction(ctx context.Context, reaction *domain.Reaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.reactions[reaction.MessageID][reaction.Emoji]
	if !ok || !users[reaction.UserID] {
		return false, nil
	}

	delete(users, reaction.UserID)
	if len(users) == 0 {
		delete(r.reactions[reaction.MessageID], reaction.Emoji)
	}
	return true, nil
}
