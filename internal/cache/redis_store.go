package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisTokenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTokenStore(rdb *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, ttl: ttl}
}

func tokenKey(phoneNumber string) string {
	return fmt.Sprintf("token:%s", phoneNumber)
}

func (s *RedisTokenStore) StoreToken(ctx context.Context, phoneNumber, code string) error {
	return s.rdb.Set(ctx, tokenKey(phoneNumber), code, s.ttl).Err()
}

// ConsumeToken fetches and deletes the stored code in one round trip so a
// code can never verify twice.
func (s *RedisTokenStore) ConsumeToken(ctx context.Context, phoneNumber string) (string, error) {
	code, err := s.rdb.GetDel(ctx, tokenKey(phoneNumber)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	return code, nil
}
