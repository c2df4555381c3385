package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/telemetry"
)

type StatusStore interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	OwnsCanteen(ctx context.Context, staffID, canteenID string) (bool, error)
	// TransitionStatus sets status to `to` only while it still equals
	// `from`. It returns ErrStaleTransition when another writer got there
	// first.
	TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (Order, error)
}

// Lifecycle applies manual status changes.
type Lifecycle struct {
	store   StatusStore
	pub     feed.Publisher
	metrics *telemetry.Instruments
	logger  *slog.Logger
	now     func() time.Time
}

func NewLifecycle(store StatusStore, pub feed.Publisher, metrics *telemetry.Instruments, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{store: store, pub: pub, metrics: metrics, logger: logger, now: time.Now}
}

// UpdateStatus moves an order to `to` if the caller may touch the order and
// the transition table allows it. The write is conditional on the status
// read here.
func (l *Lifecycle) UpdateStatus(ctx context.Context, p auth.Principal, orderID string, to Status) (Order, error) {
	if !p.Authenticated() {
		return Order{}, ErrUnauthenticated
	}
	ctx, span := tracer.Start(ctx, "orders.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status.to", string(to)))

	o, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Order{}, persistence("get order", err)
	}
	if err := l.authorize(ctx, p, o, to); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}
	if !CanTransition(o.Status, to) {
		span.SetStatus(codes.Error, ErrIllegalTransition.Error())
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}

	at := l.now().UTC()
	updated, err := l.store.TransitionStatus(ctx, o.ID, o.Status, to, at)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Order{}, persistence("update order status", err)
	}

	l.metrics.StatusChanged(ctx, string(o.Status), string(to), string(p.Role))
	Emit(ctx, l.pub, l.logger, StatusEvent(updated, o.Status, at))
	l.logger.Info("order status updated", "order_id", o.ID, "from", o.Status, "to", to,
		"actor_id", p.ID, "actor_role", p.Role)
	return updated, nil
}

// Cancel is UpdateStatus(..., StatusCancelled).
func (l *Lifecycle) Cancel(ctx context.Context, p auth.Principal, orderID string) (Order, error) {
	return l.UpdateStatus(ctx, p, orderID, StatusCancelled)
}

func (l *Lifecycle) authorize(ctx context.Context, p auth.Principal, o Order, to Status) error {
	switch p.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleStaff:
		owns, err := l.store.OwnsCanteen(ctx, p.ID, o.CanteenID)
		if err != nil {
			return persistence("check canteen owner", err)
		}
		if !owns {
			return ErrForbidden
		}
		return nil
	case auth.RoleCustomer:
		if o.CustomerID != p.ID || to != StatusCancelled || o.Status != StatusPending {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}
