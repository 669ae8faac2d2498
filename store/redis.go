package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetedge/logger"

	"github.com/redis/go-redis/v9"
)

const blockPrefix = "fleetedge:block:"

type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(addr string, password string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &RedisStore{Client: client}
}

// Ping checks connectivity so a bad address fails at start-up.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	val, err := s.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 && expiration > 0 {
		if err := s.Client.Expire(ctx, key, expiration).Err(); err != nil {
			return val, err
		}
	}
	return val, nil
}

func (s *RedisStore) IsBlocked(ctx context.Context, key string) bool {
	exists, err := s.Client.Exists(ctx, blockPrefix+key).Result()
	if err != nil {
		logger.Error("Redis block check failed", "err", err)
		return false
	}
	return exists > 0
}

func (s *RedisStore) Block(ctx context.Context, key string, expiration time.Duration, kind string) error {
	if err := s.Client.Set(ctx, blockPrefix+key, kind, expiration).Err(); err != nil {
		return err
	}
	logger.Info("Distributed block issued", "key", key, "kind", kind, "duration", expiration)
	return nil
}

func (s *RedisStore) Unblock(ctx context.Context, key string) error {
	return s.Client.Del(ctx, blockPrefix+key).Err()
}

func (s *RedisStore) ListBlocks(ctx context.Context) (map[string]string, error) {
	blocks := make(map[string]string)
	iter := s.Client.Scan(ctx, 0, blockPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		val, err := s.Client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		blocks[strings.TrimPrefix(k, blockPrefix)] = val
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
