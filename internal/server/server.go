// Package server exposes the services over HTTP behind the middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/raakeshmj/postplane/internal/audit"
	"github.com/raakeshmj/postplane/internal/circuitbreaker"
	"github.com/raakeshmj/postplane/internal/config"
	"github.com/raakeshmj/postplane/internal/metrics"
	"github.com/raakeshmj/postplane/internal/middleware"
	"github.com/raakeshmj/postplane/internal/policy"
	"github.com/raakeshmj/postplane/internal/reliability"
	"github.com/raakeshmj/postplane/internal/repository"
	"github.com/raakeshmj/postplane/internal/service"
	"github.com/raakeshmj/postplane/internal/storage"
)

// Deps is everything the HTTP layer needs. Redis, Breaker, Tracer and
// PolicyFile are optional.
type Deps struct {
	Store         repository.Store
	Auth          *service.AuthService
	Posts         *service.PostService
	Categories    *service.CategoryService
	Blobs         *storage.Disk
	Limiter       middleware.RateLimiter
	Strategy      reliability.FailureStrategy
	Metrics       *metrics.MetricsCollector
	Audit         audit.Logger
	ConfigManager *config.DynamicConfigManager
	Policies      *policy.Engine
	PolicyFile    string
	Security      middleware.SecurityConfig
	Redis         *redis.Client
	Breaker       *circuitbreaker.CircuitBreaker
	Tracer        trace.TracerProvider
}

type Server struct {
	deps    Deps
	router  *http.ServeMux
	handler http.Handler
}

func New(d Deps) *Server {
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}
	s := &Server{deps: d, router: http.NewServeMux()}
	s.routes()

	// Order: Scope (outer) -> Tracing -> Metrics -> Audit -> Security -> Policy -> Access -> RateLimit -> Handler
	s.handler = middleware.Chain(s.router,
		middleware.Scope,
		middleware.Tracing(d.Tracer),
		middleware.MetricsMiddleware(d.Metrics),
		middleware.AuditMiddleware(d.Audit),
		middleware.SecureHeaders(d.Security),
		middleware.PolicyEnforcer(d.Policies),
		middleware.Access(d.Auth.Issuer(), d.Auth.FindUser),
		middleware.RateLimit(d.Limiter, d.ConfigManager, d.Strategy, d.Metrics),
	)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /health", s.health)
	s.router.HandleFunc("GET /ready", s.ready)

	s.router.HandleFunc("POST /auth/signup", s.signup)
	s.router.HandleFunc("POST /auth/login", s.login)
	s.router.HandleFunc("POST /auth/oauth", s.oauth)
	s.router.HandleFunc("POST /auth/refresh", s.refresh)
	s.router.HandleFunc("GET /auth/me", s.me)
	s.router.HandleFunc("POST /auth/logout", s.logout)
	s.router.HandleFunc("POST /auth/tokens", s.personalToken)

	s.router.HandleFunc("GET /posts", s.listPosts)
	s.router.HandleFunc("GET /posts/{id}", s.showPost)
	s.router.HandleFunc("POST /posts", s.createPost)
	s.router.HandleFunc("PUT /posts/{id}", s.updatePost)
	s.router.HandleFunc("DELETE /posts/{id}", s.deletePost)
	s.router.HandleFunc("POST /posts/{id}/restore", s.restorePost)

	s.router.HandleFunc("GET /categories", s.listCategories)
	s.router.HandleFunc("POST /categories", s.createCategory)

	s.router.Handle("GET /storage/{path...}", http.StripPrefix("/storage/", s.deps.Blobs.Handler()))

	s.router.HandleFunc("GET /admin/metrics", s.adminMetrics)
	s.router.HandleFunc("GET /admin/rate-limit", s.getRateLimit)
	s.router.HandleFunc("PUT /admin/rate-limit", s.updateRateLimit)
	s.router.HandleFunc("GET /admin/policies", s.listPolicies)
	s.router.HandleFunc("POST /admin/policies/reload", s.reloadPolicies)
	s.router.HandleFunc("POST /admin/users", s.createUser)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		log.Printf("server: start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}
