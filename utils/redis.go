package utils

import (
	"context"
	"fmt"
	"time"

	"proof-badge-system/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings. An empty address disables redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisLock is a best-effort, TTL-bounded lock shared by every replica.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, prefix string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, prefix: prefix, ttl: ttl}
}

// compare-and-delete so a holder whose TTL lapsed cannot free someone else's lock
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Acquire tries once. ok is false when someone else holds the key.
func (l *RedisLock) Acquire(ctx context.Context, key string) (release func(), ok bool, err error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.client, []string{full}, token).Err()
	}, true, nil
}
