package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLease takes key for owner. A repeat acquire by the same owner refreshes
// the ttl. It returns the current owner when someone else holds it.
func AcquireLease(ctx context.Context, rdb redis.Cmdable, key, owner string, ttl time.Duration) (bool, string, error) {
	ok, err := rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, owner, nil
	}
	cur, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return AcquireLease(ctx, rdb, key, owner, ttl)
	}
	if err != nil {
		return false, "", err
	}
	if cur != owner {
		return false, cur, nil
	}
	if err := rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return false, "", err
	}
	return true, owner, nil
}

// ReleaseLease reports whether owner held the lease and it was removed.
func ReleaseLease(ctx context.Context, rdb redis.Cmdable, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, rdb, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LeaseOwner returns "" when nobody holds key.
func LeaseOwner(ctx context.Context, rdb redis.Cmdable, key string) (string, error) {
	v, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
