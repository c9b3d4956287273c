package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Routes is a handler group mounted behind bearer authentication.
type Routes interface {
	Register(r chi.Router)
}

type RouterConfig struct {
	Log      *zap.Logger
	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer // nil hides /metrics
	Auth     *Auth
	Timeout  time.Duration
}

func NewRouter(cfg RouterConfig, routes ...Routes) *chi.Mux {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(cfg.Log, cfg.Metrics), middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		for _, rt := range routes {
			rt.Register(r)
		}
	})
	return r
}
