package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease arbitrates which process monitors a job when several run side by side.
type Lease interface {
	// Acquire returns a token when the lease was taken.
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, jobID, token string) error
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease stores leases as keys with a TTL.
type RedisLease struct {
	client *redis.Client
	prefix string
}

func NewRedisLease(client *redis.Client, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "slidecast:monitor:"
	}
	return &RedisLease{client: client, prefix: prefix}
}

func (l *RedisLease) key(jobID string) string { return l.prefix + jobID }

func (l *RedisLease) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(jobID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("monitor: acquire lease: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lease only if token still owns it.
func (l *RedisLease) Release(ctx context.Context, jobID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(jobID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("monitor: release lease: %w", err)
	}
	return nil
}
