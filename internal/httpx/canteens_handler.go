package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/canteens"
)

type CanteenService interface {
	Register(ctx context.Context, p auth.Principal, in canteens.Registration) (canteens.Canteen, error)
	Approve(ctx context.Context, p auth.Principal, id string) (canteens.Canteen, error)
	ListApproved(ctx context.Context) ([]canteens.Canteen, error)
	ListAll(ctx context.Context, p auth.Principal) ([]canteens.Canteen, error)
	Menu(ctx context.Context, canteenID string) ([]canteens.MenuItem, error)
	Stats(ctx context.Context, p auth.Principal) (canteens.Stats, error)
	MyCanteen(ctx context.Context, p auth.Principal) (canteens.StaffCanteen, error)
	CreateMenuItem(ctx context.Context, p auth.Principal, canteenID string, in canteens.MenuItemInput) (canteens.MenuItem, error)
	UpdateMenuItem(ctx context.Context, p auth.Principal, itemID string, in canteens.MenuItemInput) (canteens.MenuItem, error)
	SetAvailability(ctx context.Context, p auth.Principal, itemID string, available bool) (canteens.MenuItem, error)
	DeleteMenuItem(ctx context.Context, p auth.Principal, itemID string) error
}

type CanteensHandler struct {
	Canteens CanteenService
	Logger   *slog.Logger
}

func (h *CanteensHandler) Register(r chi.Router) {
	t := timed(r)
	t.Get("/canteens", h.listApproved)
	t.Get("/canteens/{id}/menu", h.menu)
	t.Post("/canteens", h.register)
	t.Post("/canteens/{id}/approve", h.approve)
	t.Get("/admin/canteens", h.listAll)
	t.Get("/admin/stats", h.stats)

	t.Get("/staff/canteen", h.myCanteen)
	t.Post("/canteens/{id}/menu", h.createItem)
	t.Patch("/menu-items/{id}", h.updateItem)
	t.Delete("/menu-items/{id}", h.deleteItem)
	t.Post("/menu-items/{id}/availability", h.setAvailability)
}

func (h *CanteensHandler) listApproved(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cs, err := h.Canteens.ListApproved(ctx)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *CanteensHandler) menu(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Canteens.Menu(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CanteensHandler) register(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var in canteens.Registration
	if !decodeJSON(w, r, &in) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Canteens.Register(ctx, p, in)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CanteensHandler) approve(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Canteens.Approve(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CanteensHandler) listAll(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cs, err := h.Canteens.ListAll(ctx, p)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *CanteensHandler) stats(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := h.Canteens.Stats(ctx, p)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *CanteensHandler) myCanteen(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Canteens.MyCanteen(ctx, p)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CanteensHandler) createItem(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var in canteens.MenuItemInput
	if !decodeJSON(w, r, &in) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	it, err := h.Canteens.CreateMenuItem(ctx, p, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *CanteensHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var in canteens.MenuItemInput
	if !decodeJSON(w, r, &in) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	it, err := h.Canteens.UpdateMenuItem(ctx, p, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *CanteensHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Canteens.DeleteMenuItem(ctx, p, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type availabilityRequest struct {
	Available *bool `json:"is_available"`
}

func (h *CanteensHandler) setAvailability(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Available == nil {
		writeMsg(w, http.StatusBadRequest, "is_available is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	it, err := h.Canteens.SetAvailability(ctx, p, chi.URLParam(r, "id"), *req.Available)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}
