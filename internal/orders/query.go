package orders

import (
	"context"
	"log/slog"
	"slices"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
)

type ViewStore interface {
	CanteenIDsOwnedBy(ctx context.Context, staffID string) ([]string, error)
	// ListViews returns matching orders newest first, with lines and
	// canteen joined in.
	ListViews(ctx context.Context, f ViewFilter) ([]OrderView, error)
}

// Query builds role-scoped order views.
type Query struct {
	store  ViewStore
	logger *slog.Logger
}

func NewQuery(store ViewStore, logger *slog.Logger) *Query {
	return &Query{store: store, logger: logger}
}

// scope is the resolved visibility of one caller.
type scope struct {
	all        bool
	customerID string
	canteenIDs []string
}

func (s scope) empty() bool {
	return !s.all && s.customerID == "" && len(s.canteenIDs) == 0
}

func (s scope) filter() ViewFilter {
	return ViewFilter{CustomerID: s.customerID, CanteenIDs: s.canteenIDs}
}

func (s scope) covers(ev feed.Event) bool {
	return s.sees(ev.CustomerID, ev.CanteenID)
}

func (s scope) sees(customerID, canteenID string) bool {
	switch {
	case s.all:
		return true
	case s.customerID != "":
		return customerID == s.customerID
	default:
		return slices.Contains(s.canteenIDs, canteenID)
	}
}

func (q *Query) resolve(ctx context.Context, p auth.Principal) (scope, error) {
	if !p.Authenticated() {
		return scope{}, ErrUnauthenticated
	}
	switch p.Role {
	case auth.RoleCustomer:
		return scope{customerID: p.ID}, nil
	case auth.RoleStaff:
		ids, err := q.store.CanteenIDsOwnedBy(ctx, p.ID)
		if err != nil {
			return scope{}, persistence("list owned canteens", err)
		}
		return scope{canteenIDs: ids}, nil
	case auth.RoleAdmin:
		return scope{all: true}, nil
	default:
		return scope{}, ErrForbidden
	}
}

func (q *Query) fetch(ctx context.Context, s scope) ([]OrderView, error) {
	// staff without a canteen see nothing, not everything
	if s.empty() {
		return []OrderView{}, nil
	}
	views, err := q.store.ListViews(ctx, s.filter())
	if err != nil {
		return nil, persistence("list orders", err)
	}
	for i := range views {
		views[i].NextStatus = NextStatuses(views[i].Status)
	}
	return views, nil
}

// List returns every order visible to p, newest first.
func (q *Query) List(ctx context.Context, p auth.Principal) ([]OrderView, error) {
	ctx, span := tracer.Start(ctx, "orders.List")
	defer span.End()

	s, err := q.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return q.fetch(ctx, s)
}

// Get returns one order if p may see it. Orders out of scope are reported
// as not found.
func (q *Query) Get(ctx context.Context, p auth.Principal, id string) (OrderView, error) {
	ctx, span := tracer.Start(ctx, "orders.Get")
	defer span.End()

	s, err := q.resolve(ctx, p)
	if err != nil {
		return OrderView{}, err
	}
	if s.empty() {
		return OrderView{}, ErrNotFound
	}
	f := s.filter()
	f.OrderID = id
	views, err := q.store.ListViews(ctx, f)
	if err != nil {
		return OrderView{}, persistence("get order", err)
	}
	if len(views) == 0 {
		return OrderView{}, ErrNotFound
	}
	v := views[0]
	v.NextStatus = NextStatuses(v.Status)
	return v, nil
}

// Visible reports ErrNotFound unless p may see an order placed by
// customerID at canteenID. It lets callers that already hold an order's
// owners, such as the status cache, check scope without loading the view.
func (q *Query) Visible(ctx context.Context, p auth.Principal, customerID, canteenID string) error {
	s, err := q.resolve(ctx, p)
	if err != nil {
		return err
	}
	if s.empty() || !s.sees(customerID, canteenID) {
		return ErrNotFound
	}
	return nil
}

// Watch calls fn with the caller's full order list, then again after every
// change event that touches an order in scope. It returns when ctx ends,
// the subscription closes, or fn fails.
func (q *Query) Watch(ctx context.Context, p auth.Principal, sub feed.Subscriber, fn func([]OrderView) error) error {
	s, err := q.resolve(ctx, p)
	if err != nil {
		return err
	}

	// subscribe before the first read so no change slips in between
	subn, err := sub.Subscribe(ctx, feed.OrderChanges)
	if err != nil {
		return err
	}
	defer subn.Close()

	views, err := q.fetch(ctx, s)
	if err != nil {
		return err
	}
	if err := fn(views); err != nil {
		return err
	}

	events := subn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if !s.covers(ev) {
				continue
			}
			views, err := q.fetch(ctx, s)
			if err != nil {
				q.logger.Error("failed to refresh order view", "error", err, "user_id", p.ID)
				return err
			}
			if err := fn(views); err != nil {
				return err
			}
		}
	}
}
