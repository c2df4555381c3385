package redisx

import "time"

const (
	// Checkout replay: idem:checkout:{user_id}:{idempotency_key} -> JSON result
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// In-flight checkout guard, same suffix as KeyIdemCheckout
	KeyIdemLock = "idem:lock:%s:%s"

	// Cache status order: order_status:{order_id} -> hash status, updated_at, ts, customer_id, canteen_id
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemLock    = 30 * time.Second
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
