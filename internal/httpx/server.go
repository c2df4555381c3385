package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-canteen-orders/internal/auth"
)

// requestTimeout bounds every route except the live stream.
const requestTimeout = 15 * time.Second

func NewRouter(v *auth.Verifier, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(auth.Middleware(v))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

func timed(r chi.Router) chi.Router {
	return r.With(middleware.Timeout(requestTimeout))
}
