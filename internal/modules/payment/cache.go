// README: Redis cache of final payment statuses.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Status is the polled payment state of one order reference.
type Status struct {
	Paid   bool   `json:"paid"`
	Status string `json:"status,omitempty"`
}

// Terminal reports whether polling can stop.
func (s Status) Terminal() bool {
	return s.Paid || s.Status == "FAILED"
}

// StatusCache keeps terminal payment states close to the pollers.
// Get returns nil on a miss.
type StatusCache interface {
	Get(ctx context.Context, ref string) (*Status, error)
	Set(ctx context.Context, ref string, st Status) error
	Delete(ctx context.Context, ref string) error
}

const statusKeyFmt = "payment:status:%s"

type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatusCache(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatusCache{rdb: rdb, ttl: ttl}
}

func statusKey(ref string) string { return fmt.Sprintf(statusKeyFmt, ref) }

func (c *RedisStatusCache) Get(ctx context.Context, ref string) (*Status, error) {
	raw, err := c.rdb.Get(ctx, statusKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get payment status")
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		return nil, nil
	}
	return &st, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, ref string, st Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statusKey(ref), raw, c.ttl).Err()
}

func (c *RedisStatusCache) Delete(ctx context.Context, ref string) error {
	return c.rdb.Del(ctx, statusKey(ref)).Err()
}
