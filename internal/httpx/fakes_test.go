package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/canteens"
	"github.com/ariefcatur/go-canteen-orders/internal/cart"
	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
)

const testSecret = "test-secret"

var (
	customer = auth.Principal{ID: "cust-1", Role: auth.RoleCustomer}
	staff    = auth.Principal{ID: "staff-1", Role: auth.RoleStaff}
	admin    = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
)

// testServer mounts handlers on the production router.
type testServer struct {
	t      *testing.T
	router *chi.Mux
	v      *auth.Verifier
}

func newTestServer(t *testing.T, handlers ...interface{ Register(chi.Router) }) *testServer {
	t.Helper()
	v := auth.NewVerifier(testSecret)
	r := NewRouter(v, nil)
	for _, h := range handlers {
		h.Register(r)
	}
	return &testServer{t: t, router: r, v: v}
}

func (s *testServer) do(p *auth.Principal, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, rd)
	if p != nil {
		tok, err := s.v.Issue(*p, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMsg(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, rec)["error"]
}

// memCarts is an in-memory cart.Store.
type memCarts struct {
	mu    sync.Mutex
	items map[string][]cart.Item
}

func newMemCarts() *memCarts { return &memCarts{items: map[string][]cart.Item{}} }

func (m *memCarts) Load(_ context.Context, ownerID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cart.Restore(m.items[ownerID]), nil
}

func (m *memCarts) Save(_ context.Context, ownerID string, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ownerID] = c.Items()
	return nil
}

func (m *memCarts) Update(_ context.Context, ownerID string, fn func(*cart.Cart) error, opts ...cart.Option) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cart.Restore(m.items[ownerID], opts...)
	if err := fn(c); err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		delete(m.items, ownerID)
	} else {
		m.items[ownerID] = c.Items()
	}
	return c, nil
}

func (m *memCarts) Delete(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, ownerID)
	return nil
}

// fakeMenu serves a fixed set of orderable items.
type menuEntry struct {
	item    canteens.MenuItem
	canteen canteens.Canteen
}

type fakeMenu map[string]menuEntry

func (f fakeMenu) Orderable(_ context.Context, itemID string) (canteens.MenuItem, canteens.Canteen, error) {
	e, ok := f[itemID]
	if !ok {
		return canteens.MenuItem{}, canteens.Canteen{}, canteens.ErrItemNotFound
	}
	return e.item, e.canteen, nil
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	mu     sync.Mutex
	bodies map[string][]byte
	locks  map[string]bool
}

func newMemIdem() *memIdem {
	return &memIdem{bodies: map[string][]byte{}, locks: map[string]bool{}}
}

func idemKey(userID, key string) string { return userID + "/" + key }

func (m *memIdem) Recall(_ context.Context, userID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bodies[idemKey(userID, key)]
	return b, ok, nil
}

func (m *memIdem) Lock(_ context.Context, userID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(userID, key)
	if m.locks[k] {
		return false, nil
	}
	m.locks[k] = true
	return true, nil
}

func (m *memIdem) Unlock(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, idemKey(userID, key))
	return nil
}

func (m *memIdem) Remember(_ context.Context, userID, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[idemKey(userID, key)] = body
	return nil
}

// orderSink is a SubmitStore that numbers orders and fails chosen canteens.
type orderSink struct {
	mu    sync.Mutex
	seq   int64
	calls int
	fail  map[string]bool
}

func (s *orderSink) CreateOrder(_ context.Context, o *orders.Order, lines []orders.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[o.CanteenID] {
		return errors.New("connection reset")
	}
	s.seq++
	o.ID = fmt.Sprintf("ord-%d", s.seq)
	o.Number = s.seq
	for i := range lines {
		lines[i].ID = fmt.Sprintf("line-%d-%d", s.seq, i)
		lines[i].OrderID = o.ID
	}
	return nil
}

// memCache is an in-memory StatusCache. Like the Redis one it keeps the
// newer of two entries.
type memCache struct {
	mu      sync.Mutex
	entries map[string]redisx.StatusEntry
}

func newMemCache() *memCache { return &memCache{entries: map[string]redisx.StatusEntry{}} }

func (c *memCache) Get(_ context.Context, id string) (redisx.StatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok, nil
}

func (c *memCache) Set(_ context.Context, id string, e redisx.StatusEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[id]; ok && cur.UpdatedAt.After(e.UpdatedAt) {
		return nil
	}
	c.entries[id] = e
	return nil
}

var testLogger = logging.Discard()
