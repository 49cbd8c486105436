package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL   = 5 * time.Second
	retryBackoff = 25 * time.Millisecond
	keyPrefix    = "lesson-lock:"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX, for engines running on several
// replicas. A lock expires after its TTL if the holder dies.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis locker. A non-positive ttl uses 5s.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Lock polls until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctxErr)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-time.After(retryBackoff):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
