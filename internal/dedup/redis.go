package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	errx "persona-relay/internal/core/error"
)

// Redis remembers accepted update ids in a Redis instance shared by every
// process pointed at it.
type Redis struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "relay:update:"}
}

func (r *Redis) key(id int64) string {
	return r.prefix + strconv.FormatInt(id, 10)
}

// Accept sets the id key if absent and reports whether it was set.
func (r *Redis) Accept(ctx context.Context, id int64) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key(id), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: accept %d: %w", id, errx.WrapRedis(err))
	}
	return ok, nil
}

func (r *Redis) Forget(ctx context.Context, id int64) error {
	if err := r.rdb.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("dedup: forget %d: %w", id, errx.WrapRedis(err))
	}
	return nil
}
