// Package httpserver assembles the gateway's chi router: the payment
// pipeline mounted at the JSON-RPC surface, plus health and admin
// endpoints, wrapped in the ambient middleware stack (security headers,
// structured logging, request ID/recovery, rate limiting).
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cedrospay/rpc-paywall-gateway/internal/config"
	"github.com/cedrospay/rpc-paywall-gateway/internal/invoice"
	"github.com/cedrospay/rpc-paywall-gateway/internal/logger"
	"github.com/cedrospay/rpc-paywall-gateway/internal/provider"
	"github.com/cedrospay/rpc-paywall-gateway/internal/ratelimit"
)

// healthGroupTimeout bounds the discovery/operational endpoints, which
// never call an upstream provider; /healthz makes one liveness call to the
// chain client.
const healthGroupTimeout = 5 * time.Second

// rpcGroupTimeout bounds the payment pipeline: a challenge round-trip or a
// forwarded archive call can legitimately take tens of seconds.
const rpcGroupTimeout = 45 * time.Second

// Server wires the chi router and its net/http.Server around it.
type Server struct {
	httpServer *http.Server
}

// New builds a Server. pipeline is mounted to answer every JSON-RPC
// request; chainClient, invoices, and registry back the operational
// endpoints.
func New(
	cfg *config.Config,
	pipeline http.Handler,
	chainClient healthChecker,
	invoices invoice.Store,
	registry *provider.Registry,
	appLogger zerolog.Logger,
) *Server {
	router := chi.NewRouter()
	ConfigureRouter(router, cfg, pipeline, chainClient, invoices, registry, appLogger)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
}

// ConfigureRouter attaches the gateway's routes and middleware stack to an
// existing router, mirroring the teacher's pattern of a standalone
// ConfigureRouter usable both from New and from an embedding caller.
func ConfigureRouter(
	router chi.Router,
	cfg *config.Config,
	pipeline http.Handler,
	chainClient healthChecker,
	invoices invoice.Store,
	registry *provider.Registry,
	appLogger zerolog.Logger,
) {
	if router == nil {
		return
	}

	h := &handlers{chainClient: chainClient, invoices: invoices, registry: registry}

	router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Payment-Response"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(ratelimit.Limiter(cfg.RateLimit))

	// Lightweight discovery/operational endpoints: short timeout, never
	// blocked behind the payment pipeline's blocking chain/forward calls.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(healthGroupTimeout))
		r.Get("/healthz", h.health)
		r.With(adminAuth(cfg.Admin.APIKey)).Get("/admin/providers", h.adminProviders)
		r.With(adminAuth(cfg.Admin.APIKey)).Handle("/metrics", promhttp.Handler())
	})

	// The paywalled JSON-RPC surface: every request is either challenged
	// (402) or proxied to an upstream archive node, both of which may
	// involve a slow chain RPC or upstream call.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(rpcGroupTimeout))
		r.Post("/", pipeline.ServeHTTP)
		r.Post("/rpc", pipeline.ServeHTTP)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
