package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-canteen-orders/internal/feed"
)

func createdEvents(o Order) []feed.Event {
	base := feed.Event{
		Op:         feed.OpInsert,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		CanteenID:  o.CanteenID,
		Status:     string(o.Status),
		OccurredAt: o.CreatedAt,
	}
	head, lines := base, base
	head.ID, head.Table = uuid.NewString(), feed.TableOrders
	lines.ID, lines.Table = uuid.NewString(), feed.TableOrderItems
	return []feed.Event{head, lines}
}

// StatusEvent describes a committed status change of o away from old.
func StatusEvent(o Order, old Status, at time.Time) feed.Event {
	return feed.Event{
		ID:         uuid.NewString(),
		Table:      feed.TableOrders,
		Op:         feed.OpUpdate,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		CanteenID:  o.CanteenID,
		Status:     string(o.Status),
		OldStatus:  string(old),
		OccurredAt: at,
	}
}

// Emit publishes change events after the write has committed. Failures are
// logged only: the row change already happened and views re-read on the
// next event.
func Emit(ctx context.Context, pub feed.Publisher, logger *slog.Logger, evs ...feed.Event) {
	if pub == nil {
		return
	}
	for _, ev := range evs {
		if err := pub.Publish(ctx, ev); err != nil {
			logger.Error("failed to publish change event", "error", err, "order_id", ev.OrderID, "table", ev.Table)
		}
	}
}
