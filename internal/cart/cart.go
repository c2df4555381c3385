package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Item is one draft line. Quantity is always >= 1 while the item is held.
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	CanteenID   string          `json:"canteen_id"`
	CanteenName string          `json:"canteen_name"`
	ImageURL    string          `json:"image_url,omitempty"`
}

func (it Item) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Group is the slice of a draft belonging to one canteen.
type Group struct {
	CanteenID   string `json:"canteen_id"`
	CanteenName string `json:"canteen_name"`
	Items       []Item `json:"items"`
}

func (g Group) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range g.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Notifier receives user-facing confirmations.
type Notifier func(msg string)

// Cart is a draft order held for one customer. It is not safe for
// concurrent use; a session owns exactly one.
type Cart struct {
	items  []Item
	notify Notifier
}

type Option func(*Cart)

func WithNotifier(n Notifier) Option {
	return func(c *Cart) { c.notify = n }
}

func New(opts ...Option) *Cart {
	c := &Cart{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Restore rebuilds a cart from stored items, dropping any with quantity < 1.
func Restore(items []Item, opts ...Option) *Cart {
	c := New(opts...)
	for _, it := range items {
		if it.Quantity >= 1 {
			c.items = append(c.items, it)
		}
	}
	return c
}

// Add increments the quantity of an item already in the draft, or inserts
// it with quantity 1.
func (c *Cart) Add(item Item) {
	if i := c.index(item.ID); i >= 0 {
		c.items[i].Quantity++
	} else {
		item.Quantity = 1
		c.items = append(c.items, item)
	}
	if c.notify != nil {
		c.notify(fmt.Sprintf("%s added to cart", item.Name))
	}
}

// UpdateQuantity sets the quantity verbatim; qty <= 0 removes the item.
func (c *Cart) UpdateQuantity(itemID string, qty int) {
	if qty <= 0 {
		c.Remove(itemID)
		return
	}
	if i := c.index(itemID); i >= 0 {
		c.items[i].Quantity = qty
	}
}

func (c *Cart) Remove(itemID string) {
	if i := c.index(itemID); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

func (c *Cart) Clear() { c.items = nil }

func (c *Cart) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Len() int      { return len(c.items) }
func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }

func (c *Cart) TotalItems() int {
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Groups partitions the draft by canteen, in order of each canteen's first
// appearance.
func (c *Cart) Groups() []Group {
	var groups []Group
	pos := map[string]int{}
	for _, it := range c.items {
		i, ok := pos[it.CanteenID]
		if !ok {
			i = len(groups)
			pos[it.CanteenID] = i
			groups = append(groups, Group{CanteenID: it.CanteenID, CanteenName: it.CanteenName})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// RemoveCanteen drops every item belonging to canteenID.
func (c *Cart) RemoveCanteen(canteenID string) {
	kept := c.items[:0]
	for _, it := range c.items {
		if it.CanteenID != canteenID {
			kept = append(kept, it)
		}
	}
	c.items = kept
}

func (c *Cart) index(itemID string) int {
	for i, it := range c.items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}
