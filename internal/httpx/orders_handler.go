package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
)

type OrderReader interface {
	List(ctx context.Context, p auth.Principal) ([]orders.OrderView, error)
	Get(ctx context.Context, p auth.Principal, id string) (orders.OrderView, error)
	Watch(ctx context.Context, p auth.Principal, sub feed.Subscriber, fn func([]orders.OrderView) error) error
	Visible(ctx context.Context, p auth.Principal, customerID, canteenID string) error
}

type StatusChanger interface {
	UpdateStatus(ctx context.Context, p auth.Principal, orderID string, to orders.Status) (orders.Order, error)
	Cancel(ctx context.Context, p auth.Principal, orderID string) (orders.Order, error)
}

type StatusReader interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	Set(ctx context.Context, orderID string, e redisx.StatusEntry) error
}

type OrdersHandler struct {
	Query     OrderReader
	Lifecycle StatusChanger
	Statuses  StatusReader
	Cache     StatusCache
	Feed      feed.Subscriber
	Logger    *slog.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/stream", h.stream)
	t := timed(r)
	t.Get("/orders", h.list)
	t.Get("/orders/{id}", h.get)
	t.Get("/orders/{id}/status", h.getStatus)
	t.Patch("/orders/{id}/status", h.updateStatus)
	t.Post("/orders/{id}/cancel", h.cancel)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	views, err := h.Query.List(ctx, p)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Query.Get(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// getStatus serves the cached status, falling back to the database. Both
// paths check the caller's scope against the order's owners, and orders
// out of scope are reported as not found.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	e, hit, err := h.Cache.Get(ctx, orderID)
	if err != nil {
		h.Logger.Warn("status cache read failed", "error", err, "order_id", orderID)
	}
	if err == nil && hit && e.CustomerID != "" {
		if err := h.Query.Visible(ctx, p, e.CustomerID, e.CanteenID); err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
		return
	}

	// 2) fallback DB
	o, err := h.Statuses.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if err := h.Query.Visible(ctx, p, o.CustomerID, o.CanteenID); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	e = statusEntry(o)
	if err := h.Cache.Set(ctx, orderID, e); err != nil {
		h.Logger.Warn("status cache write failed", "error", err, "order_id", orderID)
	}
	writeJSON(w, http.StatusOK, e)
}

func statusEntry(o orders.Order) redisx.StatusEntry {
	return redisx.StatusEntry{
		Status:     string(o.Status),
		UpdatedAt:  o.StatusChangedAt,
		CustomerID: o.CustomerID,
		CanteenID:  o.CanteenID,
	}
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeMsg(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	h.transition(w, r, func(ctx context.Context) (orders.Order, error) {
		return h.Lifecycle.UpdateStatus(ctx, p, chi.URLParam(r, "id"), req.Status)
	})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	h.transition(w, r, func(ctx context.Context) (orders.Order, error) {
		return h.Lifecycle.Cancel(ctx, p, chi.URLParam(r, "id"))
	})
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, do func(context.Context) (orders.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := do(ctx)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if err := h.Cache.Set(ctx, o.ID, statusEntry(o)); err != nil {
		h.Logger.Warn("status cache write failed", "error", err, "order_id", o.ID)
	}
	writeJSON(w, http.StatusOK, o)
}

// stream pushes the caller's full order list as Server-Sent Events, once on
// connect and again after every relevant change.
func (h *OrdersHandler) stream(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)
	started := false

	err := h.Query.Watch(r.Context(), p, h.Feed, func(views []orders.OrderView) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		b, err := json.Marshal(views)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: orders\ndata: %s\n\n", b); err != nil {
			return err
		}
		return rc.Flush()
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case !started:
		writeError(w, r, h.Logger, err)
	default:
		h.Logger.Warn("order stream ended", "error", err, "user_id", p.ID)
	}
}
