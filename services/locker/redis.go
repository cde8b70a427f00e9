package lockersvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const (
	keyPrefix    = "lock:"
	pollInterval = 50 * time.Millisecond
)

// release deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between every API and admin process using the same Redis.
// A lock expires after ttl even if it is never released (e.g. the holder crashed).
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger core.Logger
}

var _ core.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger core.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, logger: logger}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	key = keyPrefix + key
	token := uuid.New().String()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, core.ErrLockTimeout
			}
			return nil, core.NewTransientError(err, "acquiring lock")
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, core.ErrLockTimeout
		}
	}
}

// release runs on a fresh context: the caller's may already be done.
func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		l.logger.Error(fmt.Sprintf("releasing lock %s: %v", key, err), err)
	}
}
