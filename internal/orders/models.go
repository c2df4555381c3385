package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultNotes marks every order as paid in cash at the counter.
const DefaultNotes = "Cash on pickup"

// PickupLead is added to the submission time for the pickup estimate.
const PickupLead = 30 * time.Minute

type Order struct {
	ID                string          `json:"id"`
	Number            int64           `json:"order_number"`
	CustomerID        string          `json:"customer_id"`
	CanteenID         string          `json:"canteen_id"`
	Total             decimal.Decimal `json:"total_amount"`
	Status            Status          `json:"status"`
	Notes             string          `json:"notes,omitempty"`
	EstimatedPickupAt time.Time       `json:"estimated_pickup_time"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	StatusChangedAt   time.Time       `json:"status_changed_at"`
}

// OrderLine snapshots the unit price at order time; lines never change.
type OrderLine struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	MenuItemID string          `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineView is a line joined with its menu item at read time.
type LineView struct {
	OrderLine
	MenuItemName        string `json:"menu_item_name"`
	MenuItemDescription string `json:"menu_item_description,omitempty"`
}

type CanteenRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

type OrderView struct {
	Order
	Canteen    CanteenRef `json:"canteen"`
	Lines      []LineView `json:"order_items"`
	NextStatus []Status   `json:"next_statuses"`
}

// ViewFilter scopes a view query. Empty fields do not filter.
type ViewFilter struct {
	OrderID    string
	CustomerID string
	CanteenIDs []string
}

// Anchor names the timestamp an age threshold is measured from.
type Anchor string

const (
	AnchorCreated       Anchor = "created"
	AnchorStatusChanged Anchor = "status_changed"
)
