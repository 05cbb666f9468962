package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"osapio-go/internal/config"
	"osapio-go/pkg/log"
)

// RDB 保存 refresh token 与分析任务的失败计数。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端，连接失败时退出进程。
func InitRedis(cfg config.RedisConfig) {
	RDB = NewRedis(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Redis] 无法连接 %s: %v", cfg.Addr, err)
	}
	log.Infof("[Redis] 已连接 %s (db %d)", cfg.Addr, cfg.DB)
}

// NewRedis 按配置创建客户端，不访问网络。
func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
}
