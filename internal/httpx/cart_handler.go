package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/canteens"
	"github.com/ariefcatur/go-canteen-orders/internal/cart"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

type MenuLookup interface {
	Orderable(ctx context.Context, itemID string) (canteens.MenuItem, canteens.Canteen, error)
}

type Checkout interface {
	Submit(ctx context.Context, p auth.Principal, c *cart.Cart) (orders.SubmitResult, error)
}

type IdempotencyStore interface {
	Recall(ctx context.Context, userID, key string) ([]byte, bool, error)
	Lock(ctx context.Context, userID, key string) (bool, error)
	Unlock(ctx context.Context, userID, key string) error
	Remember(ctx context.Context, userID, key string, body []byte) error
}

type CartHandler struct {
	Carts    cart.Store
	Menu     MenuLookup
	Checkout Checkout
	Idem     IdempotencyStore
	Logger   *slog.Logger
}

func (h *CartHandler) Register(r chi.Router) {
	t := timed(r)
	t.Get("/cart", h.get)
	t.Post("/cart/items", h.addItem)
	t.Patch("/cart/items/{id}", h.setQuantity)
	t.Delete("/cart/items/{id}", h.removeItem)
	t.Delete("/cart", h.clear)
	t.Post("/cart/checkout", h.checkout)
	t.Delete("/session", h.endSession)
}

type cartResp struct {
	Items       []cart.Item     `json:"items"`
	Groups      []cart.Group    `json:"groups"`
	TotalItems  int             `json:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Message     string          `json:"message,omitempty"`
}

func toCartResp(c *cart.Cart, msg string) cartResp {
	return cartResp{
		Items:       c.Items(),
		Groups:      c.Groups(),
		TotalItems:  c.TotalItems(),
		TotalAmount: c.TotalAmount(),
		Message:     msg,
	}
}

// mutate applies fn to the caller's draft in one optimistic update. A nil
// fn only reads it.
func (h *CartHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, c *cart.Cart) error) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var (
		note string
		c    *cart.Cart
		err  error
	)
	if fn == nil {
		c, err = h.Carts.Load(ctx, p.ID)
	} else {
		notify := cart.WithNotifier(func(msg string) { note = msg })
		c, err = h.Carts.Update(ctx, p.ID, func(c *cart.Cart) error {
			note = ""
			return fn(ctx, c)
		}, notify)
	}
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResp(c, note))
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil)
}

type addItemReq struct {
	MenuItemID string `json:"menu_item_id"`
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MenuItemID == "" {
		writeMsg(w, http.StatusBadRequest, "menu_item_id is required")
		return
	}
	h.mutate(w, r, func(ctx context.Context, c *cart.Cart) error {
		it, cn, err := h.Menu.Orderable(ctx, req.MenuItemID)
		if err != nil {
			return err
		}
		c.Add(cart.Item{
			ID:          it.ID,
			Name:        it.Name,
			UnitPrice:   it.Price,
			CanteenID:   cn.ID,
			CanteenName: cn.Name,
			ImageURL:    it.ImageURL,
		})
		return nil
	})
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityReq
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	h.mutate(w, r, func(_ context.Context, c *cart.Cart) error {
		c.UpdateQuantity(id, req.Quantity)
		return nil
	})
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, func(_ context.Context, c *cart.Cart) error {
		c.Remove(id)
		return nil
	})
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(_ context.Context, c *cart.Cart) error {
		c.Clear()
		return nil
	})
}

// endSession signs the caller out of their cart: the draft is cleared and
// the stored copy removed.
func (h *CartHandler) endSession(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.Load(ctx, p.ID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	s, err := cart.NewSession(p, c)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	s.OnEnd(func(ctx context.Context, p auth.Principal) error {
		return h.Carts.Delete(ctx, p.ID)
	})
	if err := s.End(ctx); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failedGroup struct {
	CanteenID   string `json:"canteen_id"`
	CanteenName string `json:"canteen_name"`
	Error       string `json:"error"`
}

type checkoutResp struct {
	Placed []orders.Placement `json:"placed"`
	Failed []failedGroup      `json:"failed,omitempty"`
}

func (h *CartHandler) checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		if body, hit, err := h.Idem.Recall(ctx, p.ID, key); err == nil && hit {
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
			return
		} else if err != nil {
			h.Logger.Warn("idempotency recall failed", "error", err, "user_id", p.ID)
		}
		locked, err := h.Idem.Lock(ctx, p.ID, key)
		if err != nil {
			h.Logger.Warn("idempotency lock failed", "error", err, "user_id", p.ID)
		} else if !locked {
			writeMsg(w, http.StatusConflict, "checkout already in progress")
			return
		}
		defer func() {
			if err := h.Idem.Unlock(context.WithoutCancel(ctx), p.ID, key); err != nil {
				h.Logger.Warn("idempotency unlock failed", "error", err, "user_id", p.ID)
			}
		}()
	}

	c, err := h.Carts.Load(ctx, p.ID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	res, err := h.Checkout.Submit(ctx, p, c)
	if len(res.Placed) > 0 {
		// placed groups leave the draft even if the request is gone
		if serr := h.Carts.Save(context.WithoutCancel(ctx), p.ID, c); serr != nil {
			h.Logger.Error("failed to save cart after checkout", "error", serr, "user_id", p.ID)
		}
	}

	switch {
	case err == nil:
		body, merr := json.Marshal(checkoutResp{Placed: res.Placed})
		if merr != nil {
			writeError(w, r, h.Logger, merr)
			return
		}
		if key != "" {
			if ierr := h.Idem.Remember(ctx, p.ID, key, body); ierr != nil {
				h.Logger.Warn("idempotency remember failed", "error", ierr, "user_id", p.ID)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	case errors.Is(err, orders.ErrPartialSubmission):
		resp := checkoutResp{Placed: res.Placed}
		for _, f := range res.Failed {
			resp.Failed = append(resp.Failed, failedGroup{
				CanteenID:   f.CanteenID,
				CanteenName: f.CanteenName,
				Error:       "order could not be placed, items kept in cart",
			})
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, r, h.Logger, err)
	}
}
