package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
)

type CachedStatus struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Status  string `json:"status"`
}

// StatusCache is the read-through order status cache behind GET /orders/{id}/status.
// A nil *StatusCache is valid and caches nothing.
type StatusCache struct {
	RDB *redis.Client
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool) {
	if c == nil || c.RDB == nil {
		return CachedStatus{}, false
	}
	s, ok, err := Lookup(ctx, c.RDB, fmt.Sprintf(KeyOrderStatus, orderID))
	if err != nil || !ok {
		return CachedStatus{}, false
	}
	var cs CachedStatus
	if json.Unmarshal([]byte(s), &cs) != nil {
		return CachedStatus{}, false
	}
	return cs, true
}

func (c *StatusCache) Set(ctx context.Context, orderID, userID, status string) {
	if c == nil || c.RDB == nil {
		return
	}
	b, _ := json.Marshal(CachedStatus{OrderID: orderID, UserID: userID, Status: status})
	_ = c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Invalidate drops the cached status after a transition.
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) {
	if c == nil || c.RDB == nil {
		return
	}
	_ = c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
