// Package relay moves order change events from Kafka onto the realtime feed.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	kafkax "github.com/ariefcatur/go-canteen-orders/internal/kafka"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
)

type Service struct {
	// Redis holds the dedup keys.
	Redis *redis.Client
	// Feed receives every new change, normally a *Fanout.
	Feed        feed.Publisher
	ServiceName string
	Logger      *slog.Logger
}

// HandleChange is the consumer handler for feed.TopicOrderChanges. A nil
// return commits the offset, so undecodable messages are logged and
// skipped rather than retried forever. Any other error makes the consumer
// retry the same message.
func (s *Service) HandleChange(ctx context.Context, m kafkago.Message) error {
	if typ := kafkax.Header(m, kafkax.HeaderEventType); typ != "" && typ != feed.EventOrderChanged {
		return nil
	}
	env, ev, err := feed.DecodeEnvelope(m.Value)
	if err != nil {
		s.Logger.Warn("skipping undecodable message", "error", err, "offset", m.Offset, "partition", m.Partition)
		return nil
	}
	if env.EventType != feed.EventOrderChanged {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	first, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	if err := s.Feed.Publish(ctx, ev); err != nil {
		// release the claim so the retry is not swallowed
		_ = s.Redis.Del(ctx, dkey).Err()
		return fmt.Errorf("fan out %s: %w", env.EventID, err)
	}
	s.Logger.Debug("change relayed", "event_id", env.EventID, "order_id", ev.OrderID, "table", ev.Table, "op", ev.Op)
	return nil
}
