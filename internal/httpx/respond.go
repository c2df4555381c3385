package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/canteens"
	"github.com/ariefcatur/go-canteen-orders/internal/cart"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusOf maps domain errors to HTTP. Anything unknown is a 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, orders.ErrUnauthenticated), errors.Is(err, canteens.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, orders.ErrForbidden), errors.Is(err, canteens.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrEmptyCart), errors.Is(err, canteens.ErrInvalidInput),
		errors.Is(err, canteens.ErrInvalidMenuItem):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, canteens.ErrNotFound), errors.Is(err, canteens.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrIllegalTransition), errors.Is(err, orders.ErrStaleTransition),
		errors.Is(err, canteens.ErrAlreadyRegistered), errors.Is(err, canteens.ErrItemInUse),
		errors.Is(err, cart.ErrContended):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Server errors are logged
// and their detail is kept out of the response.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		writeMsg(w, code, "internal error")
		return
	}
	writeMsg(w, code, err.Error())
}

// caller returns the authenticated principal or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeMsg(w, http.StatusUnauthorized, orders.ErrUnauthenticated.Error())
	}
	return p, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
