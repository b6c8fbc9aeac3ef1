package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"prompt-forge-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

// sessionTTL 是会话快照在 Redis 中的保留时间，每次保存都会续期。
const sessionTTL = 7 * 24 * time.Hour

// ErrSessionNotFound 表示快照不存在或已过期。
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository 定义了会话快照的存取操作。
type SessionRepository interface {
	SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error
	GetSnapshot(ctx context.Context, sessionID string) (*model.SessionSnapshot, error)
	ListByUser(ctx context.Context, userID uint) ([]model.SessionSnapshot, error)
	Delete(ctx context.Context, userID uint, sessionID string) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func userSessionsKey(userID uint) string {
	return fmt.Sprintf("user:%d:sessions", userID)
}

// SaveSnapshot 写入快照，并在用户的会话索引中按更新时间排序。
func (r *redisSessionRepository) SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	pipe := r.redisClient.TxPipeline()
	pipe.Set(ctx, sessionKey(snap.ID), data, sessionTTL)
	pipe.ZAdd(ctx, userSessionsKey(snap.UserID), &redis.Z{
		Score:  float64(snap.UpdatedAt.UnixMilli()),
		Member: snap.ID,
	})
	pipe.Expire(ctx, userSessionsKey(snap.UserID), sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) GetSnapshot(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	data, err := r.redisClient.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session snapshot: %w", err)
	}
	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}
	return &snap, nil
}

// ListByUser 按最近更新在前返回用户的全部会话，顺带清理已过期快照留下的索引项。
func (r *redisSessionRepository) ListByUser(ctx context.Context, userID uint) ([]model.SessionSnapshot, error) {
	ids, err := r.redisClient.ZRevRange(ctx, userSessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return []model.SessionSnapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load user sessions: %w", err)
	}

	snaps := make([]model.SessionSnapshot, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var snap model.SessionSnapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		snaps = append(snaps, snap)
	}
	if len(stale) > 0 {
		_ = r.redisClient.ZRem(ctx, userSessionsKey(userID), stale...).Err()
	}
	return snaps, nil
}

func (r *redisSessionRepository) Delete(ctx context.Context, userID uint, sessionID string) error {
	pipe := r.redisClient.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.ZRem(ctx, userSessionsKey(userID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
