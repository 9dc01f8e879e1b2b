package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultPrefix agrupa las claves de dedupe en Redis.
const DefaultPrefix = "register-user:dedupe:"

// RedisDeduper reclama claves con SETNX: solo el primero que llega gana.
type RedisDeduper struct {
	client *redis.Client
	prefix string
}

func NewRedisDeduper(client *redis.Client, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisDeduper{client: client, prefix: prefix}
}

// Claim devuelve true si la clave no existía y queda reclamada durante ttl.
func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Release libera la clave para que una reentrega pueda procesarse.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
