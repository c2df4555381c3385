package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-canteen-orders/internal/feed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for Repo.
type memStore struct {
	mu       sync.Mutex
	seq      int64
	orders   map[string]Order
	lines    map[string][]OrderLine
	owners   map[string]string // canteen id -> staff id
	canteens map[string]CanteenRef
	menu     map[string]string // menu item id -> name

	failCanteen map[string]error
	failOwned   error
	failList    error
	// raceTo, when set, changes an order's status right before a
	// conditional update so the update sees a stale `from`.
	raceTo Status
}

func newMemStore() *memStore {
	return &memStore{
		orders:      map[string]Order{},
		lines:       map[string][]OrderLine{},
		owners:      map[string]string{},
		canteens:    map[string]CanteenRef{},
		menu:        map[string]string{},
		failCanteen: map[string]error{},
	}
}

func (s *memStore) CreateOrder(_ context.Context, o *Order, lines []OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCanteen[o.CanteenID]; err != nil {
		return err
	}
	s.seq++
	o.ID = uuid.NewString()
	o.Number = s.seq
	for i := range lines {
		lines[i].ID = uuid.NewString()
		lines[i].OrderID = o.ID
	}
	s.orders[o.ID] = *o
	s.lines[o.ID] = append([]OrderLine(nil), lines...)
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *memStore) OwnsCanteen(_ context.Context, staffID, canteenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[canteenID] == staffID, nil
}

func (s *memStore) CanteenIDsOwnedBy(_ context.Context, staffID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOwned != nil {
		return nil, s.failOwned
	}
	var ids []string
	for c, owner := range s.owners {
		if owner == staffID {
			ids = append(ids, c)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id string, from, to Status, at time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if s.raceTo != "" {
		o.Status = s.raceTo
		s.orders[id] = o
	}
	if o.Status != from {
		return Order{}, ErrStaleTransition
	}
	if !CanTransition(from, to) {
		return Order{}, ErrIllegalTransition
	}
	o.Status, o.UpdatedAt, o.StatusChangedAt = to, at, at
	s.orders[id] = o
	return o, nil
}

func (s *memStore) ListViews(_ context.Context, f ViewFilter) ([]OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	var out []OrderView
	for _, o := range s.orders {
		if f.OrderID != "" && o.ID != f.OrderID {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if len(f.CanteenIDs) > 0 && !contains(f.CanteenIDs, o.CanteenID) {
			continue
		}
		v := OrderView{Order: o, Canteen: s.canteens[o.CanteenID], Lines: []LineView{}}
		for _, l := range s.lines[o.ID] {
			v.Lines = append(v.Lines, LineView{OrderLine: l, MenuItemName: s.menu[l.MenuItemID]})
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}

// seed stores an order directly and returns it.
func (s *memStore) seed(customer, canteen string, st Status, created time.Time) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	o := Order{
		ID:              uuid.NewString(),
		Number:          s.seq,
		CustomerID:      customer,
		CanteenID:       canteen,
		Status:          st,
		CreatedAt:       created,
		UpdatedAt:       created,
		StatusChangedAt: created,
	}
	s.orders[o.ID] = o
	return o
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// recorder is a feed.Publisher that keeps what it is given.
type recorder struct {
	mu     sync.Mutex
	events []feed.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev feed.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []feed.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feed.Event(nil), r.events...)
}

var errDB = errors.New("connection reset")
