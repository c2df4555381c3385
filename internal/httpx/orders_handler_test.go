package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-canteen-orders/internal/advancer"
	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
	"github.com/ariefcatur/go-canteen-orders/internal/relay"
)

type fakeQuery struct {
	views   []orders.OrderView
	listErr error
	// pushes is how many snapshots Watch delivers before returning.
	pushes   int
	watchErr error
	// staffCanteens maps staff ids to the canteen they run.
	staffCanteens map[string]string
}

func (q *fakeQuery) List(_ context.Context, _ auth.Principal) ([]orders.OrderView, error) {
	return q.views, q.listErr
}

func (q *fakeQuery) Get(_ context.Context, _ auth.Principal, id string) (orders.OrderView, error) {
	for _, v := range q.views {
		if v.ID == id {
			return v, nil
		}
	}
	return orders.OrderView{}, orders.ErrNotFound
}

func (q *fakeQuery) Watch(_ context.Context, _ auth.Principal, _ feed.Subscriber, fn func([]orders.OrderView) error) error {
	if q.watchErr != nil {
		return q.watchErr
	}
	for i := 0; i < q.pushes; i++ {
		if err := fn(q.views); err != nil {
			return err
		}
	}
	return context.Canceled
}

func (q *fakeQuery) Visible(_ context.Context, p auth.Principal, customerID, canteenID string) error {
	switch {
	case p.Role == auth.RoleAdmin,
		p.Role == auth.RoleCustomer && p.ID == customerID,
		p.Role == auth.RoleStaff && q.staffCanteens[p.ID] == canteenID:
		return nil
	}
	return orders.ErrNotFound
}

type fakeLifecycle struct {
	order orders.Order
	err   error
	gotTo orders.Status
}

func (l *fakeLifecycle) UpdateStatus(_ context.Context, _ auth.Principal, id string, to orders.Status) (orders.Order, error) {
	l.gotTo = to
	if l.err != nil {
		return orders.Order{}, l.err
	}
	o := l.order
	o.ID, o.Status = id, to
	return o, nil
}

func (l *fakeLifecycle) Cancel(ctx context.Context, p auth.Principal, id string) (orders.Order, error) {
	return l.UpdateStatus(ctx, p, id, orders.StatusCancelled)
}

type fakeStatuses struct {
	mu     sync.Mutex
	orders map[string]orders.Order
}

func (f *fakeStatuses) GetOrder(_ context.Context, id string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

type ordersFixture struct {
	srv   *testServer
	query *fakeQuery
	life  *fakeLifecycle
	cache *memCache
	db    *fakeStatuses
}

func newOrdersFixture(t *testing.T) *ordersFixture {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := &ordersFixture{
		query: &fakeQuery{
			views: []orders.OrderView{
				{Order: orders.Order{ID: "o-1", Number: 7, CustomerID: customer.ID, CanteenID: "x", Status: orders.StatusPending, CreatedAt: at}},
			},
			staffCanteens: map[string]string{staff.ID: "x"},
		},
		life:  &fakeLifecycle{order: orders.Order{CustomerID: customer.ID, CanteenID: "x", StatusChangedAt: at}},
		cache: newMemCache(),
		db: &fakeStatuses{orders: map[string]orders.Order{
			"o-1": {ID: "o-1", CustomerID: customer.ID, CanteenID: "x", Status: orders.StatusPreparing, StatusChangedAt: at},
		}},
	}
	f.srv = newTestServer(t, &OrdersHandler{
		Query:     f.query,
		Lifecycle: f.life,
		Statuses:  f.db,
		Cache:     f.cache,
		Feed:      feed.NewMemory(8),
		Logger:    testLogger,
	})
	return f
}

func TestOrdersListAndGet(t *testing.T) {
	f := newOrdersFixture(t)

	rec := f.srv.do(&customer, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]orders.OrderView](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, int64(7), views[0].Number)

	rec = f.srv.do(&customer, http.MethodGet, "/orders/o-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.srv.do(&customer, http.MethodGet, "/orders/o-9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.srv.do(nil, http.MethodGet, "/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrdersListHidesStorageErrors(t *testing.T) {
	f := newOrdersFixture(t)
	f.query.listErr = &orders.PersistenceError{Op: "list orders", Err: fmt.Errorf("dial tcp 10.0.0.5:5432: refused")}

	rec := f.srv.do(&customer, http.MethodGet, "/orders", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestOrderStatusReadsThroughCache(t *testing.T) {
	f := newOrdersFixture(t)

	rec := f.srv.do(&customer, http.MethodGet, "/orders/o-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "preparing", decode[redisx.StatusEntry](t, rec).Status)
	assert.Equal(t, "preparing", f.cache.entries["o-1"].Status)

	// cached value wins over the database
	f.cache.entries["o-1"] = redisx.StatusEntry{Status: "ready_for_pickup", CustomerID: customer.ID, CanteenID: "x"}
	rec = f.srv.do(&customer, http.MethodGet, "/orders/o-1/status", nil)
	assert.Equal(t, "ready_for_pickup", decode[redisx.StatusEntry](t, rec).Status)
	assert.NotContains(t, rec.Body.String(), customer.ID)

	rec = f.srv.do(&customer, http.MethodGet, "/orders/o-9/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderStatusIsScopedToCaller(t *testing.T) {
	otherCustomer := auth.Principal{ID: "cust-2", Role: auth.RoleCustomer}
	otherStaff := auth.Principal{ID: "staff-2", Role: auth.RoleStaff}

	tests := []struct {
		name string
		p    auth.Principal
		code int
	}{
		{"owner", customer, http.StatusOK},
		{"canteen staff", staff, http.StatusOK},
		{"admin", admin, http.StatusOK},
		{"other customer", otherCustomer, http.StatusNotFound},
		{"other canteen staff", otherStaff, http.StatusNotFound},
	}
	for _, warm := range []bool{false, true} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s cached=%v", tt.name, warm), func(t *testing.T) {
				f := newOrdersFixture(t)
				if warm {
					f.cache.entries["o-1"] = redisx.StatusEntry{Status: "preparing", CustomerID: customer.ID, CanteenID: "x"}
				}
				rec := f.srv.do(&tt.p, http.MethodGet, "/orders/o-1/status", nil)
				assert.Equal(t, tt.code, rec.Code, rec.Body.String())
				if tt.code == http.StatusNotFound {
					assert.NotContains(t, rec.Body.String(), "preparing")
				}
			})
		}
	}
}

// A sweep refreshes the cache through the fan-out, so the status endpoint
// never serves the status an order had before it was advanced.
func TestOrderStatusFollowsSweep(t *testing.T) {
	f := newOrdersFixture(t)

	rec := f.srv.do(&customer, http.MethodGet, "/orders/o-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "preparing", decode[redisx.StatusEntry](t, rec).Status)

	store := &promotingStore{db: f.db}
	out := &relay.Fanout{Cache: f.cache, Feed: feed.NewMemory(8), Logger: testLogger}
	adv := advancer.New(store, out, nil, testLogger,
		advancer.WithClock(func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }))
	rep := adv.Sweep(context.Background())
	require.NoError(t, rep.Err())
	require.Equal(t, 1, rep.Advanced())

	rec = f.srv.do(&customer, http.MethodGet, "/orders/o-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready_for_pickup", decode[redisx.StatusEntry](t, rec).Status)
}

// promotingStore advances the orders held by a fakeStatuses.
type promotingStore struct{ db *fakeStatuses }

func (s *promotingStore) PromoteAged(_ context.Context, from, to orders.Status, _ orders.Anchor, _, at time.Time) ([]orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []orders.Order
	for id, o := range s.db.orders {
		if o.Status == from {
			o.Status, o.StatusChangedAt = to, at
			s.db.orders[id] = o
			out = append(out, o)
		}
	}
	return out, nil
}

func TestUpdateStatus(t *testing.T) {
	f := newOrdersFixture(t)

	rec := f.srv.do(&staff, http.MethodPatch, "/orders/o-1/status", updateStatusReq{Status: "ready_for_pickup"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusReadyForPickup, decode[orders.Order](t, rec).Status)
	assert.Equal(t, "ready_for_pickup", f.cache.entries["o-1"].Status)

	rec = f.srv.do(&staff, http.MethodPatch, "/orders/o-1/status", updateStatusReq{Status: "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: completed -> preparing", orders.ErrIllegalTransition), http.StatusConflict},
		{orders.ErrStaleTransition, http.StatusConflict},
		{orders.ErrForbidden, http.StatusForbidden},
		{orders.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		f.life.err = tc.err
		rec = f.srv.do(&staff, http.MethodPatch, "/orders/o-1/status", updateStatusReq{Status: "preparing"})
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestCancelOrder(t *testing.T) {
	f := newOrdersFixture(t)

	rec := f.srv.do(&customer, http.MethodPost, "/orders/o-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, f.life.gotTo)
	assert.Equal(t, "cancelled", f.cache.entries["o-1"].Status)
}

func TestOrderStream(t *testing.T) {
	f := newOrdersFixture(t)
	f.query.pushes = 2

	rec := f.srv.do(&customer, http.MethodGet, "/orders/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: orders\n"))
	assert.Contains(t, body, `"id":"o-1"`)
}

func TestOrderStreamFailsBeforeFirstSnapshot(t *testing.T) {
	f := newOrdersFixture(t)
	f.query.watchErr = orders.ErrForbidden

	rec := f.srv.do(&customer, http.MethodGet, "/orders/stream", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
