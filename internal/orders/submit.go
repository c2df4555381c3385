package orders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/cart"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/telemetry"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-canteen-orders/internal/orders")

// SubmitStore persists one order with its lines atomically. It fills in
// the generated identifiers and order number.
type SubmitStore interface {
	CreateOrder(ctx context.Context, o *Order, lines []OrderLine) error
}

type Placement struct {
	Order Order       `json:"order"`
	Lines []OrderLine `json:"order_items"`
}

type GroupFailure struct {
	CanteenID   string `json:"canteen_id"`
	CanteenName string `json:"canteen_name"`
	Err         error  `json:"-"`
}

type SubmitResult struct {
	Placed []Placement    `json:"placed"`
	Failed []GroupFailure `json:"failed,omitempty"`
}

// Submitter turns a cart into one order per canteen.
type Submitter struct {
	store        SubmitStore
	pub          feed.Publisher
	metrics      *telemetry.Instruments
	logger       *slog.Logger
	now          func() time.Time
	groupTimeout time.Duration
}

func NewSubmitter(store SubmitStore, pub feed.Publisher, metrics *telemetry.Instruments, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:        store,
		pub:          pub,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
		groupTimeout: 5 * time.Second,
	}
}

// Submit places the cart. Each canteen group is written in its own
// transaction. Groups that succeed leave the cart; groups that fail stay
// in it so a retry only resubmits those. When every group fails the cart
// is untouched and a *PersistenceError is returned; a mix of outcomes
// returns ErrPartialSubmission alongside the result.
//
// Once started, a submission runs to the end even if ctx is cancelled.
func (s *Submitter) Submit(ctx context.Context, p auth.Principal, c *cart.Cart) (SubmitResult, error) {
	if !p.Authenticated() {
		return SubmitResult{}, ErrUnauthenticated
	}
	if c == nil || c.IsEmpty() {
		return SubmitResult{}, ErrEmptyCart
	}

	ctx, span := tracer.Start(ctx, "orders.Submit")
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	var res SubmitResult
	for _, g := range c.Groups() {
		placed, err := s.placeGroup(ctx, p, g)
		if err != nil {
			s.logger.Error("failed to place order", "error", err, "customer_id", p.ID, "canteen_id", g.CanteenID)
			s.metrics.SubmitFailed(ctx, g.CanteenID)
			res.Failed = append(res.Failed, GroupFailure{CanteenID: g.CanteenID, CanteenName: g.CanteenName, Err: err})
			continue
		}
		c.RemoveCanteen(g.CanteenID)
		res.Placed = append(res.Placed, placed)
		s.metrics.OrderPlaced(ctx, g.CanteenID)
		Emit(ctx, s.pub, s.logger, createdEvents(placed.Order)...)
		s.logger.Info("order placed", "order_id", placed.Order.ID, "order_number", placed.Order.Number,
			"customer_id", p.ID, "canteen_id", g.CanteenID, "total", placed.Order.Total.String())
	}
	span.SetAttributes(attribute.Int("orders.placed", len(res.Placed)), attribute.Int("orders.failed", len(res.Failed)))

	switch {
	case len(res.Failed) == 0:
		c.Clear()
		return res, nil
	case len(res.Placed) == 0:
		span.SetStatus(codes.Error, "no order placed")
		return res, res.Failed[0].Err
	default:
		span.SetStatus(codes.Error, ErrPartialSubmission.Error())
		return res, ErrPartialSubmission
	}
}

func (s *Submitter) placeGroup(ctx context.Context, p auth.Principal, g cart.Group) (Placement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.groupTimeout)
	defer cancel()

	now := s.now().UTC()
	o := Order{
		CustomerID:        p.ID,
		CanteenID:         g.CanteenID,
		Total:             decimal.Zero,
		Status:            StatusPending,
		Notes:             DefaultNotes,
		EstimatedPickupAt: now.Add(PickupLead),
		CreatedAt:         now,
		UpdatedAt:         now,
		StatusChangedAt:   now,
	}
	lines := make([]OrderLine, 0, len(g.Items))
	for _, it := range g.Items {
		if it.Quantity < 1 || !it.UnitPrice.IsPositive() {
			return Placement{}, &PersistenceError{Op: "create order", Err: errors.New("invalid line for item " + it.ID)}
		}
		l := OrderLine{MenuItemID: it.ID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
		o.Total = o.Total.Add(l.Subtotal())
		lines = append(lines, l)
	}

	if err := s.store.CreateOrder(ctx, &o, lines); err != nil {
		return Placement{}, persistence("create order", err)
	}
	return Placement{Order: o, Lines: lines}, nil
}
