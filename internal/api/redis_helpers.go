package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginGuardStore 是登录限流所需的 Redis 命令子集，redis.Cmdable 即满足。
type LoginGuardStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func loginRateKey(ip, email string, now time.Time) string {
	return "rate:login:" + ip + ":" + email + ":" + now.UTC().Format("2006010215")
}

func loginLockKey(email string) string { return "lock:login:" + email }
func loginFailKey(email string) string { return "lock:login:fail:" + email }

func incrWithTTL(ctx context.Context, client LoginGuardStore, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
