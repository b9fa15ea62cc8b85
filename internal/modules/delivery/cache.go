// README: Redis cache of the active rider list.
package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"dukani/internal/types"
)

const (
	activeRidersKey   = "delivery:riders:active"
	activeRiderIDsKey = "delivery:riders:active:ids"
)

// RiderCache holds the active rider list between directory reads.
type RiderCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRiderCache(redis *redis.Client, ttl time.Duration) *RiderCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RiderCache{redis: redis, ttl: ttl}
}

// Active returns the cached list and whether it was present.
func (c *RiderCache) Active(ctx context.Context) ([]User, bool, error) {
	raw, err := c.redis.Get(ctx, activeRidersKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var riders []User
	if err := json.Unmarshal(raw, &riders); err != nil {
		return nil, false, nil
	}
	return riders, true, nil
}

// IsActive answers from the id set. ok is false when the set is not cached.
func (c *RiderCache) IsActive(ctx context.Context, id types.ID) (active, ok bool, err error) {
	pipe := c.redis.Pipeline()
	exists := pipe.Exists(ctx, activeRidersKey)
	member := pipe.SIsMember(ctx, activeRiderIDsKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, false, err
	}
	if exists.Val() == 0 {
		return false, false, nil
	}
	return member.Val(), true, nil
}

// Store replaces the cached list and id set together.
func (c *RiderCache) Store(ctx context.Context, riders []User) error {
	raw, err := json.Marshal(riders)
	if err != nil {
		return errors.Wrap(err, "encode riders")
	}
	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, activeRiderIDsKey)
	if len(riders) > 0 {
		members := make([]interface{}, len(riders))
		for i, r := range riders {
			members[i] = string(r.ID)
		}
		pipe.SAdd(ctx, activeRiderIDsKey, members...)
		pipe.Expire(ctx, activeRiderIDsKey, c.ttl)
	}
	pipe.Set(ctx, activeRidersKey, raw, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RiderCache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, activeRidersKey, activeRiderIDsKey).Err()
}
