package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps drafts between requests of the same session.
type Store interface {
	Load(ctx context.Context, ownerID string) (*Cart, error)
	Save(ctx context.Context, ownerID string, c *Cart) error
	Delete(ctx context.Context, ownerID string) error
	// Update applies fn to the stored cart and saves the result, or
	// saves nothing when fn fails. fn may run more than once.
	Update(ctx context.Context, ownerID string, fn func(*Cart) error, opts ...Option) (*Cart, error)
}

// ErrContended is returned when concurrent writers kept winning every
// attempt of an Update.
var ErrContended = errors.New("cart is being changed concurrently, try again")

const updateAttempts = 5

// cart:{user_id} -> JSON array of items
const keyCart = "cart:%s"

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, ownerID string) (*Cart, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(keyCart, ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return decode(b)
}

func decode(b []byte, opts ...Option) (*Cart, error) {
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return Restore(items, opts...), nil
}

// Save refreshes the TTL; an empty cart is deleted instead of stored.
func (s *RedisStore) Save(ctx context.Context, ownerID string, c *Cart) error {
	if c.IsEmpty() {
		return s.Delete(ctx, ownerID)
	}
	b, err := json.Marshal(c.Items())
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.rdb.Set(ctx, fmt.Sprintf(keyCart, ownerID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, ownerID string) error {
	if err := s.rdb.Del(ctx, fmt.Sprintf(keyCart, ownerID)).Err(); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// Update is an optimistic read-modify-write: the key is WATCHed while fn
// runs and the write is retried if another request changed the cart first.
func (s *RedisStore) Update(ctx context.Context, ownerID string, fn func(*Cart) error, opts ...Option) (*Cart, error) {
	key := fmt.Sprintf(keyCart, ownerID)
	var out *Cart
	txf := func(tx *redis.Tx) error {
		c := New(opts...)
		b, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("load cart: %w", err)
		default:
			if c, err = decode(b, opts...); err != nil {
				return err
			}
		}
		if err := fn(c); err != nil {
			return err
		}
		var enc []byte
		if !c.IsEmpty() {
			if enc, err = json.Marshal(c.Items()); err != nil {
				return fmt.Errorf("encode cart: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if enc == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, enc, s.ttl)
			}
			return nil
		})
		out = c
		return err
	}

	for range updateAttempts {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrContended
}
