package httpx

import (
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"net/http"
	"time"
)

// NewRouter builds the base mux. m may be nil (no /metrics, no counters).
func NewRouter(m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if m != nil {
		r.Use(m.Middleware)
	}
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}
