package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisMessageRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageRepository(client *redis.Client) ports.MessageRepository {
	return &RedisMessageRepository{
		client: client,
		prefix: "edulive:message:",
	}
}

func (r *RedisMessageRepository) messageKey(id domain.MessageID) string {
	return r.prefix + string(id)
}

func (r *RedisMessageRepository) reactionKey(id domain.MessageID, emoji string) string {
	return fmt.Sprintf("edulive:reactions:%s:%s", id, emoji)
}

func (r *RedisMessageRepository) Persist(ctx context.Context, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := r.messageKey(msg.ID)
	ok, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set message in Redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("message already exists: %s", msg.ID)
	}
	return nil
}

func (r *RedisMessageRepository) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	data, err := r.client.Get(ctx, r.messageKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message from Redis: %w", err)
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (r *RedisMessageRepository) Update(ctx context.Context, msg *domain.Message) error {
	exists, err := r.client.Exists(ctx, r.messageKey(msg.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check message in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrMessageNotFound
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := r.client.Set(ctx, r.messageKey(msg.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update message in Redis: %w", err)
	}
	return nil
}

func (r *RedisMessageRepository) MarkDeleted(ctx context.Context, id domain.MessageID) error {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	msg.Deleted = true
	return r.Update(ctx, msg)
}

func (r *RedisMessageRepository) AddReaction(ctx context.Context, reaction *domain.Reaction) (bool, error) {
	exists, err := r.client.Exists(ctx, r.messageKey(reaction.MessageID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check message in Redis: %w", err)
	}
	if exists == 0 {
		return false, domain.ErrMessageNotFound
	}

	added, err := r.client.SAdd(ctx, r.reactionKey(reaction.MessageID, reaction.Emoji), string(reaction.UserID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add reaction in Redis: %w", err)
	}
	return added > 0, nil
}

func (r *RedisMessageRepository) RemoveReaction(ctx context.Context, reaction *domain.Reaction) (bool, error) {
	removed, err := r.client.SRem(ctx, r.reactionKey(reaction.MessageID, reaction.Emoji), string(reaction.UserID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove reaction in Redis: %w", err)
	}
	return removed > 0, nil
}
