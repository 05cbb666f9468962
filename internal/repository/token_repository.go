package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"osapio-go/pkg/kafka"
)

// TokenRepository 基于 Redis 保存登出黑名单与异步任务失败次数。
type TokenRepository interface {
	Blacklist(ctx context.Context, token string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	IncrAttempts(ctx context.Context, taskID string) (int64, error)
	ResetAttempts(ctx context.Context, taskID string) error
}

type tokenRepository struct {
	rdb *redis.Client
}

// NewTokenRepository 创建一个新的 TokenRepository 实例。
func NewTokenRepository(rdb *redis.Client) TokenRepository {
	return &tokenRepository{rdb: rdb}
}

func blacklistKey(token string) string {
	return "blacklist:" + token
}

// Blacklist 将 token 加入黑名单，过期时间为 token 的剩余有效期。
func (r *tokenRepository) Blacklist(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return translate(r.rdb.Set(ctx, blacklistKey(token), "true", ttl).Err())
}

// IsBlacklisted 检查 token 是否已登出。
func (r *tokenRepository) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	err := r.rdb.Get(ctx, blacklistKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, translate(err)
	}
	return true, nil
}

// IncrAttempts 累加任务失败次数，计数保留 24 小时。
func (r *tokenRepository) IncrAttempts(ctx context.Context, taskID string) (int64, error) {
	key := kafka.AttemptsKey(taskID)
	attempts, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, translate(err)
	}
	_ = r.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts, nil
}

// ResetAttempts 清除任务失败计数。
func (r *tokenRepository) ResetAttempts(ctx context.Context, taskID string) error {
	return translate(r.rdb.Del(ctx, kafka.AttemptsKey(taskID)).Err())
}
