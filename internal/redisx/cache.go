package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// OrderCache keeps short-lived copies of order statuses and remembers which
// events were already handled.
type OrderCache struct{ RDB *redis.Client }

func (c *OrderCache) GetStatus(ctx context.Context, orderID string) (string, bool, error) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (c *OrderCache) SetStatus(ctx context.Context, orderID, status string) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), status, TTLStatusCache).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// FirstSeen records id under scope and reports whether this call was the
// first to do so.
func (c *OrderCache) FirstSeen(ctx context.Context, scope, id string) (bool, error) {
	return c.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, scope, id), "1", TTLDedup).Result()
}

// Forget drops a dedup marker so the event can be handled again.
func (c *OrderCache) Forget(ctx context.Context, scope, id string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyDedup, scope, id)).Err()
}
