package relay

import (
	"context"
	"log/slog"

	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
)

// StatusWriter keeps the order_status cache. Set must drop entries older
// than the cached one.
type StatusWriter interface {
	Set(ctx context.Context, orderID string, e redisx.StatusEntry) error
}

// Fanout is the last hop of every committed change: it refreshes the status
// cache and then publishes on the live feed. The relay uses it for changes
// read from Kafka; without Kafka the writers publish through it directly.
type Fanout struct {
	Cache  StatusWriter
	Feed   feed.Publisher
	Logger *slog.Logger
}

func (f *Fanout) Publish(ctx context.Context, ev feed.Event) error {
	if ev.Table == feed.TableOrders && ev.Status != "" {
		e := redisx.StatusEntry{
			Status:     ev.Status,
			UpdatedAt:  ev.OccurredAt,
			CustomerID: ev.CustomerID,
			CanteenID:  ev.CanteenID,
		}
		if err := f.Cache.Set(ctx, ev.OrderID, e); err != nil {
			f.Logger.Warn("status cache update failed", "error", err, "order_id", ev.OrderID)
		}
	}
	return f.Feed.Publish(ctx, ev)
}
