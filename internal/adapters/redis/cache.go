package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"findmy/internal/adapters/observability"
)

type Cache struct{ c *redis.Client }

// delIfEqual deletes KEYS[1] only while it still holds ARGV[1].
var delIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func New(addr, pass string, db int) *Cache {
	return &Cache{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func (r *Cache) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }

func (r *Cache) Close() error { return r.c.Close() }

func (r *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	observability.ObserveCache("redis", "hit")
	return true, json.Unmarshal(v, dst)
}

// Set stores v as JSON; ttlSec <= 0 keeps it until deleted.
func (r *Cache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	observability.ObserveCache("redis", "set")
	return r.c.Set(ctx, key, b, ttl(ttlSec)).Err()
}

func (r *Cache) SetNX(ctx context.Context, key string, v any, ttlSec int) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	observability.ObserveCache("redis", "setnx")
	return r.c.SetNX(ctx, key, b, ttl(ttlSec)).Result()
}

func (r *Cache) Del(ctx context.Context, key string) error {
	observability.ObserveCache("redis", "del")
	return r.c.Del(ctx, key).Err()
}

// DelIfValue deletes key only if it still holds v, encoded the way Set and SetNX store it.
func (r *Cache) DelIfValue(ctx context.Context, key string, v any) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	n, err := delIfEqual.Run(ctx, r.c, []string{key}, b).Int()
	if err != nil {
		return false, err
	}
	if n > 0 {
		observability.ObserveCache("redis", "del")
	}
	return n > 0, nil
}

func ttl(sec int) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}
