// Package canteens holds canteen registration, approval and menus.
package canteens

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
)

var (
	ErrUnauthenticated   = errors.New("sign in required")
	ErrForbidden         = errors.New("not allowed")
	ErrNotFound          = errors.New("canteen not found")
	ErrItemNotFound      = errors.New("menu item not found")
	ErrAlreadyRegistered = errors.New("staff user already has a canteen")
	ErrInvalidInput      = errors.New("name and location are required")
	ErrInvalidMenuItem   = errors.New("menu item needs a name and a positive price")
	ErrItemInUse         = errors.New("menu item has orders, mark it unavailable instead")
)

type Canteen struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location"`
	OpeningHours string    `json:"opening_hours,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Approved     bool      `json:"is_approved"`
	StaffUserID  string    `json:"staff_user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type MenuItem struct {
	ID          string          `json:"id"`
	CanteenID   string          `json:"canteen_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Available   bool            `json:"is_available"`
}

// Registration is what staff submit to open a canteen.
type Registration struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Location     string `json:"location"`
	OpeningHours string `json:"opening_hours"`
	ImageURL     string `json:"image_url"`
}

// MenuItemInput is what staff submit to add or edit a menu item. Edits
// replace every field; a missing is_available keeps items orderable.
type MenuItemInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Available   *bool           `json:"is_available"`
}

// StaffCanteen is a staff user's own canteen with its full menu,
// unavailable items included.
type StaffCanteen struct {
	Canteen
	Menu []MenuItem `json:"menu"`
}

type Stats struct {
	Customers        int             `json:"total_users"`
	Canteens         int             `json:"total_canteens"`
	PendingApprovals int             `json:"pending_approvals"`
	Orders           int             `json:"total_orders"`
	TodayOrders      int             `json:"today_orders"`
	Revenue          decimal.Decimal `json:"total_revenue"`
}

type Store interface {
	Create(ctx context.Context, c *Canteen) error
	Approve(ctx context.Context, id string) (Canteen, error)
	List(ctx context.Context, approvedOnly bool) ([]Canteen, error)
	Get(ctx context.Context, id string) (Canteen, error)
	OwnedBy(ctx context.Context, staffID string) (Canteen, error)
	Menu(ctx context.Context, canteenID string) ([]MenuItem, error)
	MenuItem(ctx context.Context, id string) (MenuItem, error)
	CreateMenuItem(ctx context.Context, it *MenuItem) error
	UpdateMenuItem(ctx context.Context, it MenuItem) (MenuItem, error)
	SetAvailability(ctx context.Context, id string, available bool) (MenuItem, error)
	DeleteMenuItem(ctx context.Context, id string) error
	Stats(ctx context.Context, dayStart time.Time) (Stats, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Register creates an unapproved canteen owned by the calling staff user.
func (s *Service) Register(ctx context.Context, p auth.Principal, in Registration) (Canteen, error) {
	if err := requireStaff(p); err != nil {
		return Canteen{}, err
	}
	in.Name, in.Location = strings.TrimSpace(in.Name), strings.TrimSpace(in.Location)
	if in.Name == "" || in.Location == "" {
		return Canteen{}, ErrInvalidInput
	}
	if _, err := s.store.OwnedBy(ctx, p.ID); err == nil {
		return Canteen{}, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return Canteen{}, err
	}

	c := Canteen{
		Name:         in.Name,
		Description:  in.Description,
		Location:     in.Location,
		OpeningHours: in.OpeningHours,
		ImageURL:     in.ImageURL,
		StaffUserID:  p.ID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, &c); err != nil {
		return Canteen{}, err
	}
	s.logger.Info("canteen registered", "canteen_id", c.ID, "staff_user_id", p.ID)
	return c, nil
}

// Approve marks a canteen approved. Approving twice is not an error.
func (s *Service) Approve(ctx context.Context, p auth.Principal, id string) (Canteen, error) {
	if err := requireAdmin(p); err != nil {
		return Canteen{}, err
	}
	c, err := s.store.Approve(ctx, id)
	if err != nil {
		return Canteen{}, err
	}
	s.logger.Info("canteen approved", "canteen_id", id, "admin_id", p.ID)
	return c, nil
}

func (s *Service) ListApproved(ctx context.Context) ([]Canteen, error) {
	return s.store.List(ctx, true)
}

func (s *Service) ListAll(ctx context.Context, p auth.Principal) ([]Canteen, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return s.store.List(ctx, false)
}

// MyCanteen returns the calling staff user's canteen, approved or not,
// with every item on its menu.
func (s *Service) MyCanteen(ctx context.Context, p auth.Principal) (StaffCanteen, error) {
	if err := requireStaff(p); err != nil {
		return StaffCanteen{}, err
	}
	c, err := s.store.OwnedBy(ctx, p.ID)
	if err != nil {
		return StaffCanteen{}, err
	}
	menu, err := s.store.Menu(ctx, c.ID)
	if err != nil {
		return StaffCanteen{}, err
	}
	return StaffCanteen{Canteen: c, Menu: menu}, nil
}

// CreateMenuItem adds an item to a canteen run by the caller.
func (s *Service) CreateMenuItem(ctx context.Context, p auth.Principal, canteenID string, in MenuItemInput) (MenuItem, error) {
	if err := s.requireOwner(ctx, p, canteenID); err != nil {
		return MenuItem{}, err
	}
	it, err := menuItemFrom(in)
	if err != nil {
		return MenuItem{}, err
	}
	it.CanteenID = canteenID
	if err := s.store.CreateMenuItem(ctx, &it); err != nil {
		return MenuItem{}, err
	}
	s.logger.Info("menu item created", "menu_item_id", it.ID, "canteen_id", canteenID, "staff_user_id", p.ID)
	return it, nil
}

// UpdateMenuItem replaces the editable fields of an item.
func (s *Service) UpdateMenuItem(ctx context.Context, p auth.Principal, itemID string, in MenuItemInput) (MenuItem, error) {
	cur, err := s.ownedItem(ctx, p, itemID)
	if err != nil {
		return MenuItem{}, err
	}
	it, err := menuItemFrom(in)
	if err != nil {
		return MenuItem{}, err
	}
	it.ID, it.CanteenID = cur.ID, cur.CanteenID
	return s.store.UpdateMenuItem(ctx, it)
}

// SetAvailability takes an item off the menu or puts it back. Items already
// in carts stay there; checkout still charges their cart price.
func (s *Service) SetAvailability(ctx context.Context, p auth.Principal, itemID string, available bool) (MenuItem, error) {
	if _, err := s.ownedItem(ctx, p, itemID); err != nil {
		return MenuItem{}, err
	}
	return s.store.SetAvailability(ctx, itemID, available)
}

// DeleteMenuItem removes an item that was never ordered. Ordered items
// are referenced by order lines and report ErrItemInUse.
func (s *Service) DeleteMenuItem(ctx context.Context, p auth.Principal, itemID string) error {
	if _, err := s.ownedItem(ctx, p, itemID); err != nil {
		return err
	}
	if err := s.store.DeleteMenuItem(ctx, itemID); err != nil {
		return err
	}
	s.logger.Info("menu item deleted", "menu_item_id", itemID, "staff_user_id", p.ID)
	return nil
}

func (s *Service) requireOwner(ctx context.Context, p auth.Principal, canteenID string) error {
	if err := requireStaff(p); err != nil {
		return err
	}
	c, err := s.store.Get(ctx, canteenID)
	if err != nil {
		return err
	}
	if c.StaffUserID != p.ID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ownedItem(ctx context.Context, p auth.Principal, itemID string) (MenuItem, error) {
	if err := requireStaff(p); err != nil {
		return MenuItem{}, err
	}
	it, err := s.store.MenuItem(ctx, itemID)
	if err != nil {
		return MenuItem{}, err
	}
	if err := s.requireOwner(ctx, p, it.CanteenID); err != nil {
		return MenuItem{}, err
	}
	return it, nil
}

func menuItemFrom(in MenuItemInput) (MenuItem, error) {
	name := strings.TrimSpace(in.Name)
	price := in.Price.Round(2)
	if name == "" || !price.IsPositive() {
		return MenuItem{}, ErrInvalidMenuItem
	}
	available := true
	if in.Available != nil {
		available = *in.Available
	}
	return MenuItem{
		Name:        name,
		Description: in.Description,
		Price:       price,
		ImageURL:    in.ImageURL,
		Available:   available,
	}, nil
}

// Menu lists the items of an approved canteen.
func (s *Service) Menu(ctx context.Context, canteenID string) ([]MenuItem, error) {
	c, err := s.store.Get(ctx, canteenID)
	if err != nil {
		return nil, err
	}
	if !c.Approved {
		return nil, ErrNotFound
	}
	return s.store.Menu(ctx, canteenID)
}

// Orderable returns a menu item with its canteen if both can be ordered
// from right now.
func (s *Service) Orderable(ctx context.Context, itemID string) (MenuItem, Canteen, error) {
	it, err := s.store.MenuItem(ctx, itemID)
	if err != nil {
		return MenuItem{}, Canteen{}, err
	}
	if !it.Available {
		return MenuItem{}, Canteen{}, ErrItemNotFound
	}
	c, err := s.store.Get(ctx, it.CanteenID)
	if err != nil {
		return MenuItem{}, Canteen{}, err
	}
	if !c.Approved {
		return MenuItem{}, Canteen{}, ErrItemNotFound
	}
	return it, c, nil
}

// Stats summarises the platform for admins. Today starts at local midnight.
func (s *Service) Stats(ctx context.Context, p auth.Principal) (Stats, error) {
	if err := requireAdmin(p); err != nil {
		return Stats{}, err
	}
	now := s.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.store.Stats(ctx, day)
}

func requireStaff(p auth.Principal) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if p.Role != auth.RoleStaff {
		return ErrForbidden
	}
	return nil
}

func requireAdmin(p auth.Principal) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if p.Role != auth.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
