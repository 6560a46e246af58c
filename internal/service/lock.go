package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockService serializes crawl sessions across manual triggers and the
// scheduler using a redis SETNX lease.
type LockService struct {
	rdb *redis.Client
}

func NewLockService(redisClient *redis.Client) *LockService {
	return &LockService{
		rdb: redisClient,
	}
}

func (s *LockService) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.rdb == nil {
		return true, nil
	}
	return s.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *LockService) Release(ctx context.Context, key string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, key).Err()
}
