package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "pickup:lock:"

var ErrLockTimeout = errors.New("timed out waiting for session lock")

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes one user's transitions across bot instances sharing a RedisStore.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    30 * time.Second,
		wait:   10 * time.Second,
		retry:  20 * time.Millisecond,
	}
}

// Lock takes SET NX on the user's key, polling until it is free or the wait elapses.
// The key expires after the lock TTL so a crashed holder cannot block the user forever.
func (l *RedisLocker) Lock(ctx context.Context, userID uint) (func(), error) {
	key := l.prefix + strconv.FormatUint(uint64(userID), 10)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: user %d", ErrLockTimeout, userID)
		case <-time.After(l.retry):
		}
	}
}
