package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "loan-lock:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between processes through a Redis instance.
// It does not wait: a held key fails fast with ErrNotAcquired.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

func NewRedisLocker(addr string, ttl time.Duration, log *logrus.Logger) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		log:    log,
	}
}

// Ping checks that the Redis server is reachable.
func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, Key(key), token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{Key(key)}, token).Err(); err != nil {
			r.log.WithError(err).WithField("key", Key(key)).Warn("failed to release lock, it will expire after its TTL")
		}
	}, nil
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}

// Key returns the Redis key used for a lock name.
func Key(name string) string {
	return keyPrefix + name
}
