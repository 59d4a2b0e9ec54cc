package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-live-orders/internal/redisx"
)

// compare-and-delete: only the holder may release.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// compare-and-extend: returns the new PTTL, or -1 when the caller is not the holder.
var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return -1
end
local left = redis.call('PTTL', KEYS[1])
if left < 0 then
	return -1
end
local extended = left + tonumber(ARGV[2])
redis.call('PEXPIRE', KEYS[1], extended)
return extended
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(sareeID string) string { return fmt.Sprintf(redisx.KeyReservation, sareeID) }

func (s *RedisStore) Acquire(ctx context.Context, sareeID, orderID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("reservation ttl must be positive, got %s", ttl)
	}
	ok, err := s.client.SetNX(ctx, key(sareeID), orderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire reservation %s: %w", sareeID, err)
	}
	return ok, nil
}

func (s *RedisStore) Peek(ctx context.Context, sareeID string) (string, bool, error) {
	v, err := s.client.Get(ctx, key(sareeID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("peek reservation %s: %w", sareeID, err)
	}
	return v, true, nil
}

func (s *RedisStore) Release(ctx context.Context, sareeID, orderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key(sareeID)}, orderID).Err(); err != nil {
		return fmt.Errorf("release reservation %s: %w", sareeID, err)
	}
	return nil
}

func (s *RedisStore) Extend(ctx context.Context, sareeID, orderID string, extra time.Duration) (time.Duration, bool, error) {
	ms, err := extendScript.Run(ctx, s.client, []string{key(sareeID)}, orderID, extra.Milliseconds()).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("extend reservation %s: %w", sareeID, err)
	}
	if ms < 0 {
		return 0, false, nil
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}
