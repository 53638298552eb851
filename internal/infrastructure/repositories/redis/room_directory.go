package redis

import (
	"context"
	"fmt"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRoomDirectory reads room rosters maintained by the platform
// backend. A room with no roster key is treated as open.
type RedisRoomDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomDirectory(client *redis.Client) ports.RoomDirectory {
	return &RedisRoomDirectory{
		client: client,
		prefix: "edulive:room:",
	}
}

func (d *RedisRoomDirectory) membersKey(roomID domain.RoomID) string {
	return d.prefix + string(roomID) + ":members"
}

func (d *RedisRoomDirectory) moderatorsKey(roomID domain.RoomID) string {
	return d.prefix + string(roomID) + ":moderators"
}

func (d *RedisRoomDirectory) CheckAccess(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	key := d.membersKey(roomID)
	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room roster in Redis: %w", err)
	}
	if exists == 0 {
		return true, nil
	}

	member, err := d.client.SIsMember(ctx, key, string(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room membership in Redis: %w", err)
	}
	return member, nil
}

func (d *RedisRoomDirectory) IsModerator(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	member, err := d.client.SIsMember(ctx, d.moderatorsKey(roomID), string(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room moderators in Redis: %w", err)
	}
	return member, nil
}
