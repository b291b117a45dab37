// Package redis provides a named, expiring lock shared by every process that
// points at the same Redis instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed holder can keep a lock.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "assocmail:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lock expired never frees a successor's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewClient parses a redis:// URL and verifies the connection.
// PRE: url is non-empty
// POST: Returns a connected client; caller closes it
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	zap.L().Info("redis_connected", zap.String("addr", opts.Addr))
	return client, nil
}

// Locker takes locks with SET NX PX.
type Locker struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewLocker creates a Locker. A non-positive ttl uses DefaultTTL.
func NewLocker(client goredis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, ttl: ttl}
}

// TryLock attempts to take the named lock without waiting.
// PRE: name is non-empty
// POST: ok is false when another holder has the lock; release is non-nil
// only when ok is true and is safe to call once
func (l *Locker) TryLock(ctx context.Context, name string) (release func(), ok bool, err error) {
	key := Key(name)
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release = func() {
		// The tick context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			zap.L().Warn("lock_release_failed", zap.String("lock", name), zap.Error(err))
		}
	}
	return release, true, nil
}

// Key returns the Redis key used for a lock name.
func Key(name string) string {
	return keyPrefix + name
}
