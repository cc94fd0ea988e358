// internal/idempotency/redis_store.go
package idempotency

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const triggerKeyPrefix = "guard:trigger:"

// RedisTriggerStore 用 Redis 记录已处理的触发键。
// SET NX 保证同一触发只有一个写入者；TTL 覆盖网关的重试窗口。
type RedisTriggerStore struct {
	rdb goredis.UniversalClient
}

func NewRedisTriggerStore(rdb goredis.UniversalClient) *RedisTriggerStore {
	return &RedisTriggerStore{rdb: rdb}
}

func (s *RedisTriggerStore) Get(ctx context.Context, triggerKey string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, triggerKeyPrefix+triggerKey).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisTriggerStore) PutNX(ctx context.Context, triggerKey string, result []byte, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, triggerKeyPrefix+triggerKey, result, ttl).Result()
}
