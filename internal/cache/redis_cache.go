package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type pairingValue struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issuedAt"`
}

func (c *RedisCache) StorePairingCode(ctx context.Context, tenantID, code string) error {
	key := pairingKey(tenantID)
	val := pairingValue{
		Code:     code,
		IssuedAt: time.Now().UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

func (c *RedisCache) ClearPairingCode(ctx context.Context, tenantID string) error {
	return c.rdb.Del(ctx, pairingKey(tenantID)).Err()
}

func pairingKey(tenantID string) string {
	return fmt.Sprintf("pairing:%s", tenantID)
}
