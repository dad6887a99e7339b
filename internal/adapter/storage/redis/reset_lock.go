package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token,
// so an owner whose lease expired cannot drop a successor's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ResetLock implements ports.ResetLock with SET NX PX.
type ResetLock struct {
	client *goredis.Client
	key    string
}

// NewResetLock creates the cluster-wide wallet reset lock.
func NewResetLock(client *goredis.Client) *ResetLock {
	return &ResetLock{client: client, key: "lock:wallet-reset"}
}

// Acquire takes the lock for owner. Returns false while another owner holds it.
func (l *ResetLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis reset lock acquire: %w", err)
	}
	return ok, nil
}

// Release drops the lock if owner still holds it.
func (l *ResetLock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("redis reset lock release: %w", err)
	}
	return nil
}
