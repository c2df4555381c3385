package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChannelOrders is the pub/sub channel carrying order change events.
const ChannelOrders = "feed:orders"

// Redis fans change events out over Redis pub/sub so every API replica can
// serve live views.
type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedis(rdb *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{rdb: rdb, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.rdb.Publish(ctx, ChannelOrders, b).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, mask Mask) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, ChannelOrders)
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChannelOrders, err)
	}

	s := &redisSub{ps: ps, out: make(chan Event, 64)}
	go func() {
		defer close(s.out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = s.Close()
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					r.logger.Warn("dropping malformed feed event", "error", err)
					continue
				}
				if !mask.Match(ev) {
					continue
				}
				select {
				case s.out <- ev:
				case <-ctx.Done():
					_ = s.Close()
					return
				}
			}
		}
	}()
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Event
	once sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
