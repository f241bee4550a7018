package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> status
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{scope}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
