package locking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPollInterval = 25 * time.Millisecond

// Redis is a Locker shared by every instance of the service. A holder that
// dies keeps the key for at most ttl.
type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	poll   time.Duration
}

var _ Locker = (*Redis)(nil)

// releaseScript deletes the key only while it still carries our token, so a
// holder whose ttl ran out cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, prefix string) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "lock"
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix, poll: defaultPollInterval}
}

func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	redisKey := r.prefix + ":" + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return r.release(redisKey, token), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}
		sleep := r.poll
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Redis) release(redisKey, token string) Release {
	var (
		once sync.Once
		err  error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			err = releaseScript.Run(ctx, r.rdb, []string{redisKey}, token).Err()
		})
		return err
	}
}
