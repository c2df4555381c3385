package httpx

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-canteen-orders/internal/advancer"
	"github.com/ariefcatur/go-canteen-orders/internal/auth"
)

type Sweeper interface {
	Sweep(ctx context.Context) advancer.Report
}

// SweepHandler lets an external scheduler run the advancer. Callers present
// the shared X-Sweep-Token or an admin bearer token.
type SweepHandler struct {
	Advancer Sweeper
	Token    string
	Logger   *slog.Logger
}

func (h *SweepHandler) Register(r chi.Router) {
	timed(r).Post("/internal/sweeps", h.sweep)
}

type sweepResp struct {
	advancer.Report
	Advanced int    `json:"advanced"`
	Error    string `json:"error,omitempty"`
}

func (h *SweepHandler) allowed(r *http.Request) bool {
	if p, ok := auth.FromContext(r.Context()); ok && p.Role == auth.RoleAdmin {
		return true
	}
	got := r.Header.Get("X-Sweep-Token")
	return h.Token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) == 1
}

func (h *SweepHandler) sweep(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(r) {
		writeMsg(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rep := h.Advancer.Sweep(r.Context())
	resp := sweepResp{Report: rep, Advanced: rep.Advanced()}
	code := http.StatusOK
	if err := rep.Err(); err != nil {
		h.Logger.Error("sweep failed", "error", err, "advanced", resp.Advanced)
		resp.Error = "one or more rules failed"
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}
