package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const heartbeatKey = "ledger:health:heartbeat"

// HealthCheck reports whether Redis accepts writes. A read-only replica
// answers PING but would break idempotency caching and the reset lock.
type HealthCheck struct {
	client *goredis.Client
	now    func() time.Time
}

func NewHealthCheck(client *goredis.Client) *HealthCheck {
	return &HealthCheck{client: client, now: time.Now}
}

// Ping writes a short-lived heartbeat and reads it back.
func (h *HealthCheck) Ping(ctx context.Context) error {
	stamp := strconv.FormatInt(h.now().UnixNano(), 10)

	var get *goredis.StringCmd
	_, err := h.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, heartbeatKey, stamp, 30*time.Second)
		get = pipe.Get(ctx, heartbeatKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis heartbeat: %w", err)
	}
	if got := get.Val(); got != stamp {
		return fmt.Errorf("redis heartbeat: read %q, wrote %q", got, stamp)
	}
	return nil
}

func (h *HealthCheck) Name() string { return "redis" }
