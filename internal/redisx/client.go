package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Lookup returns the value at key; a missing key is ("", false, nil).
func Lookup(ctx context.Context, rdb *redis.Client, key string) (string, bool, error) {
	v, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// FirstSeen marks key and reports whether this caller set it.
func FirstSeen(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Forget drops a dedup mark so a failed handler can be retried.
func Forget(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a best-effort single-holder lease.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// TryLock takes the named lease for ttl. ok=false means another holder has it.
func TryLock(ctx context.Context, rdb *redis.Client, name string, ttl time.Duration) (*Lock, bool, error) {
	l := &Lock{rdb: rdb, key: fmt.Sprintf(KeyLock, name), token: uuid.NewString()}
	ok, err := rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return l, true, nil
}

// Unlock releases the lease only if it is still ours.
func (l *Lock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
