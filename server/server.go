// Package server exposes the buyback engine over an HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"buybackd/native/buyback"
	"buybackd/observability"
	"buybackd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimits    map[string]RateLimit
}

// Server hosts the quote, trade, and governance endpoints for buybackd.
type Server struct {
	cfg     Config
	engine  *buyback.Engine
	store   *storage.Store
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	router  http.Handler
}

// New constructs a configured HTTP server.
func New(cfg Config, engine *buyback.Engine, store *storage.Store, auth *Authenticator, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	if store == nil {
		return nil, fmt.Errorf("server: storage required")
	}
	if auth == nil {
		return nil, fmt.Errorf("server: authenticator required")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimits),
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/healthz", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware("quote"))
			r.Method(http.MethodGet, "/price", s.instrument("price", http.HandlerFunc(s.handlePrice)))
			r.Method(http.MethodGet, "/demand", s.instrument("demand", http.HandlerFunc(s.handleDemand)))
			r.Method(http.MethodGet, "/quote", s.instrument("quote", http.HandlerFunc(s.handleQuote)))
			r.Method(http.MethodGet, "/params", s.instrument("params", http.HandlerFunc(s.handleParams)))
		})

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.limiter.Middleware("trade"))
			r.Method(http.MethodGet, "/trades", s.instrument("trades_list", http.HandlerFunc(s.handleListTrades)))
			r.Method(http.MethodPost, "/trades", s.instrument("trades_create", http.HandlerFunc(s.handleCreateTrade)))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.requireGovernance)
			r.Method(http.MethodPost, "/pause", s.instrument("admin_pause", http.HandlerFunc(s.handlePause)))
			r.Method(http.MethodPost, "/unpause", s.instrument("admin_unpause", http.HandlerFunc(s.handleUnpause)))
			r.Method(http.MethodPut, "/params", s.instrument("admin_params", http.HandlerFunc(s.handleUpdateParams)))
			r.Method(http.MethodGet, "/changes", s.instrument("admin_changes", http.HandlerFunc(s.handleListChanges)))
		})
	})

	return otelhttp.NewHandler(r, "buybackd.api")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// requireGovernance restricts the admin surface to owner and admin principals.
func (s *Server) requireGovernance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || (principal.Role != RoleOwner && principal.Role != RoleAdmin) {
			http.Error(w, "governance credentials required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request metrics under a stable route label.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		observability.API().Observe(route, recorder.status, time.Since(start))
	})
}
