package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type sessionRecord struct {
	HostID   domain.UserID `json:"host_id"`
	Capacity int           `json:"capacity"`
}

type RedisSessionDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionDirectory(client *redis.Client) ports.SessionDirectory {
	return &RedisSessionDirectory{
		client: client,
		prefix: "edulive:session:",
	}
}

func (d *RedisSessionDirectory) sessionKey(id domain.SessionID) string {
	return d.prefix + string(id)
}

func (d *RedisSessionDirectory) participantsKey(id domain.SessionID) string {
	return d.prefix + string(id) + ":participants"
}

// CreateSession registers a session record. The platform backend normally
// writes these; this method exists for tooling and tests.
func (d *RedisSessionDirectory) CreateSession(ctx context.Context, sessionID domain.SessionID, hostID domain.UserID, capacity int) error {
	data, err := json.Marshal(sessionRecord{HostID: hostID, Capacity: capacity})
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := d.client.Set(ctx, d.sessionKey(sessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

func (d *RedisSessionDirectory) getRecord(ctx context.Context, sessionID domain.SessionID) (*sessionRecord, error) {
	data, err := d.client.Get(ctx, d.sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &rec, nil
}

func (d *RedisSessionDirectory) CanJoin(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error {
	rec, err := d.getRecord(ctx, sessionID)
	if err != nil {
		return err
	}

	already, err := d.client.SIsMember(ctx, d.participantsKey(sessionID), string(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session participants in Redis: %w", err)
	}
	if already {
		return nil
	}

	if rec.Capacity > 0 {
		count, err := d.client.SCard(ctx, d.participantsKey(sessionID)).Result()
		if err != nil {
			return fmt.Errorf("failed to count session participants in Redis: %w", err)
		}
		if count >= int64(rec.Capacity) {
			return domain.ErrSessionFull
		}
	}
	return nil
}

func (d *RedisSessionDirectory) IsHost(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (bool, error) {
	rec, err := d.getRecord(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return rec.HostID == userID, nil
}

func (d *RedisSessionDirectory) PersistParticipant(ctx context.Context, sessionID domain.SessionID, userID domain.UserID, joined bool) error {
	key := d.participantsKey(sessionID)
	if joined {
		if err := d.client.SAdd(ctx, key, string(userID)).Err(); err != nil {
			return fmt.Errorf("failed to add session participant in Redis: %w", err)
		}
		return nil
	}
	if err := d.client.SRem(ctx, key, string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove session participant in Redis: %w", err)
	}
	return nil
}
