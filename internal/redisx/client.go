package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claim sets key if absent. It reports whether this caller got it.
func Claim(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// StatusEntry is the cached status of one order. The owner fields let the
// status endpoint scope reads without a database round trip; they are not
// part of the response.
type StatusEntry struct {
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
	CustomerID string    `json:"-"`
	CanteenID  string    `json:"-"`
}

// setIfNewer writes the entry unless the stored one carries a later
// timestamp. Owners are kept when the write has none. Timestamps are unix
// microseconds to stay exact in Lua numbers.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[1], 'customer_id', ARGV[4], 'canteen_id', ARGV[5])
end
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

// SetStatus caches e for orderID. A write older than the cached entry is
// dropped and reported as false.
func SetStatus(ctx context.Context, rdb *redis.Client, orderID string, e StatusEntry) (bool, error) {
	n, err := setIfNewer.Run(ctx, rdb, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		e.UpdatedAt.UnixMicro(), e.Status, e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		e.CustomerID, e.CanteenID, TTLStatusCache.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetStatus returns the cached entry, or ok=false on a miss.
func GetStatus(ctx context.Context, rdb *redis.Client, orderID string) (StatusEntry, bool, error) {
	m, err := rdb.HGetAll(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil {
		return StatusEntry{}, false, err
	}
	if m["status"] == "" {
		return StatusEntry{}, false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err != nil {
		return StatusEntry{}, false, fmt.Errorf("parse cached updated_at: %w", err)
	}
	return StatusEntry{
		Status:     m["status"],
		UpdatedAt:  at,
		CustomerID: m["customer_id"],
		CanteenID:  m["canteen_id"],
	}, true, nil
}

// StatusCache is the order_status read-through cache.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache { return &StatusCache{rdb: rdb} }

func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	return GetStatus(ctx, c.rdb, orderID)
}

// Set stores e unless a newer status is already cached.
func (c *StatusCache) Set(ctx context.Context, orderID string, e StatusEntry) error {
	_, err := SetStatus(ctx, c.rdb, orderID, e)
	return err
}

// Idempotency replays checkout responses keyed by user and client key.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Recall returns the stored response body, if any.
func (i *Idempotency) Recall(ctx context.Context, userID, key string) ([]byte, bool, error) {
	b, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Lock guards a key while its first request is in flight.
func (i *Idempotency) Lock(ctx context.Context, userID, key string) (bool, error) {
	return Claim(ctx, i.rdb, fmt.Sprintf(KeyIdemLock, userID, key), TTLIdemLock)
}

func (i *Idempotency) Unlock(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemLock, userID, key)).Err()
}

func (i *Idempotency) Remember(ctx context.Context, userID, key string, body []byte) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key), body, TTLIdempotency).Err()
}
