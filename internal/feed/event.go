package feed

import (
	"context"
	"time"
)

const (
	TableOrders     = "orders"
	TableOrderItems = "order_items"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is a row change on orders or order_items.
type Event struct {
	ID         string    `json:"id"`
	Table      string    `json:"table"`
	Op         Op        `json:"op"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	CanteenID  string    `json:"canteen_id"`
	Status     string    `json:"status,omitempty"`
	OldStatus  string    `json:"old_status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Mask selects events by table and operation. Empty fields match all.
type Mask struct {
	Tables []string
	Ops    []Op
}

func (m Mask) Match(ev Event) bool {
	return matchAny(m.Tables, ev.Table) && matchAny(m.Ops, ev.Op)
}

func matchAny[T comparable](set []T, v T) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// OrderChanges matches every change on orders and their lines.
var OrderChanges = Mask{Tables: []string{TableOrders, TableOrderItems}}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription delivers matching events until Close or context end.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, mask Mask) (Subscription, error)
}
