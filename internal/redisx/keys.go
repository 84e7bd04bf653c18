package redisx

import "time"

const (
	// Idempotency checkout: idem:checkout:{user_id}:{key} -> response body
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Cache status order: order_status:{order_id} -> {"order_id": "...", "user_id": "...", "status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"

	// Single sweeper across replicas: lock:{name}
	KeyLock = "lock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
