package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/libs/auth"
	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/libs/runtime"
)

// RouterConfig carries the cross-cutting pieces of the HTTP surface.
type RouterConfig struct {
	Logger      *zap.Logger
	Auth        auth.Options
	CORSOrigins []string
	RateLimit   httpx.Middleware
	BodyLimit   int64
	Timeout     time.Duration
	ReadyChecks []runtime.ReadyCheck
	Gatherer    prometheus.Gatherer
}

// NewRouter serves the operational endpoints unauthenticated and the API
// under /api/v1 behind the auth middleware.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(cfg.CORSOrigins)),
	)

	r.Get("/healthz", runtime.HealthHandler())
	r.Get("/readyz", runtime.ReadyHandler(cfg.ReadyChecks...))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimit != nil {
			api.Use(cfg.RateLimit)
		}
		api.Use(
			httpx.WithBodyLimit(cfg.BodyLimit),
			httpx.WithTimeout(cfg.Timeout),
			auth.Middleware(cfg.Auth),
		)
		api.Mount("/", h.Routes())
	})
	return r
}
